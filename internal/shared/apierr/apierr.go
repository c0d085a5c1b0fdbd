// Package apierr 业务错误分类与 HTTP 响应信封
//
// 所有业务失败在检测点以带类别的 *Error 抛出，在 HTTP 边界统一转换为
// {success, data, message, statusCode} 信封，处理器内部不直接拼响应。
// Internal/Dependency 类错误对客户端只暴露通用消息，细节仅写日志。
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
)

// Kind 错误类别（封闭集合）
type Kind int

const (
	KindValidation      Kind = iota // 输入非法/缺失 → 400
	KindUnauthorized                // 未认证/凭据无效 → 401
	KindForbidden                   // 已认证但无权限 → 403
	KindNotFound                    // 实体不存在 → 404
	KindConflict                    // 唯一性/会话上限冲突 → 409
	KindTooManyRequests             // 频率限制 → 429
	KindDependency                  // 外部依赖失败（邮件等）→ 500
	KindInternal                    // 未预期失败 → 500
)

// HTTPStatus 类别到 HTTP 状态码的映射
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error 带类别的业务错误
type Error struct {
	Kind    Kind
	Message string // 面向客户端的稳定消息
	Err     error  // 底层原因，不对外暴露
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E 构造业务错误
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 构造携带底层原因的业务错误
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ============================================================================
// HTTP 信封
// ============================================================================

// Envelope 统一响应信封
type Envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
}

// WriteData 写成功响应
func WriteData(w http.ResponseWriter, status int, data interface{}, message string) {
	writeEnvelope(w, status, Envelope{
		Success:    status < 400,
		Data:       data,
		Message:    message,
		StatusCode: status,
	})
}

// WriteError 写失败响应（唯一的错误转换边界）
//
// 非 *Error 的错误一律按 Internal 处理：完整错误进日志，客户端只见通用消息。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Wrap(KindInternal, "internal server error", err)
	}

	status := apiErr.Kind.HTTPStatus()
	message := apiErr.Message
	if apiErr.Kind == KindInternal || apiErr.Kind == KindDependency {
		log.Printf("[apierr] %v", err)
		if apiErr.Kind == KindInternal {
			message = "internal server error"
		}
	}

	writeEnvelope(w, status, Envelope{
		Success:    false,
		Data:       nil,
		Message:    message,
		StatusCode: status,
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
