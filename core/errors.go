package core

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX）
//
// 使用场景：
//   - Store 错误：NOT_FOUND, NOT_SUPPORTED
//   - 图构建错误：GRAPH_CONSTRUCTION（全部边非法时才返回）
//   - 训练错误：DATA_INSUFFICIENT, TRAINING_DIVERGENCE, VALIDATION_REGRESSION
//   - 推理错误：COLD_START（从未发布过快照）
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "COLD_START"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "trainer"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*DomainError)
	return ok
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	if domainErr, ok := err.(*DomainError); ok {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 引擎错误代码
	ErrorCodeDataInsufficient     = "DATA_INSUFFICIENT"     // 训练数据不足，本轮跳过
	ErrorCodeGraphConstruction    = "GRAPH_CONSTRUCTION"    // 图构建失败（全部边非法）
	ErrorCodeTrainingDivergence   = "TRAINING_DIVERGENCE"   // 损失/梯度非有限值，丢弃候选快照
	ErrorCodeColdStart            = "COLD_START"            // 从未发布过快照
	ErrorCodeValidationRegression = "VALIDATION_REGRESSION" // 新快照显著劣于 live 快照
)

// 模块名称常量
const (
	ModuleStore   = "store"   // 存储模块
	ModuleEntity  = "entity"  // 实体索引模块
	ModuleGraph   = "graph"   // 图构建模块
	ModuleModel   = "model"   // 模型模块
	ModuleTrainer = "trainer" // 训练生命周期模块
	ModuleService = "service" // 推理服务模块
	ModuleFeature = "feature" // 特征模块
)

// 通用错误检查函数

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

// IsDataInsufficient 检查错误是否为数据不足（触发跳过而非失败）
func IsDataInsufficient(err error) bool {
	return hasCode(err, ErrorCodeDataInsufficient)
}

// IsGraphConstruction 检查错误是否为图构建失败
func IsGraphConstruction(err error) bool {
	return hasCode(err, ErrorCodeGraphConstruction)
}

// IsTrainingDivergence 检查错误是否为训练发散
func IsTrainingDivergence(err error) bool {
	return hasCode(err, ErrorCodeTrainingDivergence)
}

// IsColdStart 检查错误是否为冷启动（无 live 快照）
func IsColdStart(err error) bool {
	return hasCode(err, ErrorCodeColdStart)
}

// IsValidationRegression 检查错误是否为验证回退
func IsValidationRegression(err error) bool {
	return hasCode(err, ErrorCodeValidationRegression)
}

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}
