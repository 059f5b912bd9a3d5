package errs

import "net/http"

const (
	ServerInternalError = 500

	ArgsError        = 1000
	InvalidReference = 1001 // 非法 ObjectID
	InvalidArgument  = 1002
	NoPermission     = 1003
	RecordNotFound   = 1004
	TokenInvalid     = 1005
)

var (
	ErrInternalServer   = NewCodeError(ServerInternalError, "Server Error")
	ErrArgs             = NewCodeError(ArgsError, "invalid arguments")
	ErrInvalidReference = NewCodeError(InvalidReference, "invalid identifier")
	ErrInvalidArgument  = NewCodeError(InvalidArgument, "invalid argument")
	ErrForbidden        = NewCodeError(NoPermission, "forbidden")
	ErrNotFound         = NewCodeError(RecordNotFound, "not found")
	ErrTokenInvalid     = NewCodeError(TokenInvalid, "Invalid or expired token")
)

func init() {
	_ = DefaultCodeRelation.Add(ArgsError, InvalidReference)
	_ = DefaultCodeRelation.Add(ArgsError, InvalidArgument)
}

// HTTPStatus 按错误码映射 HTTP 状态；非 CodeError 一律 500
func HTTPStatus(err error) int {
	ce, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch {
	case ErrArgs.Is(ce):
		return http.StatusBadRequest
	case ce.Code == NoPermission:
		return http.StatusForbidden
	case ce.Code == RecordNotFound:
		return http.StatusNotFound
	case ce.Code == TokenInvalid:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 可以返回给调用方的错误文本，内部错误不暴露细节
func PublicMessage(err error) string {
	ce, ok := As(err)
	if !ok || ce.Code == ServerInternalError {
		return ErrInternalServer.Msg
	}
	if ce.Detail != "" {
		return ce.Detail
	}
	return ce.Msg
}
