package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule       = "module"
	FieldNameComponent    = "component"
	FieldNameConnectionID = "connectionID"
	FieldNameSessionID    = "sessionID"
	FieldNameReason       = "reason"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

func FieldConnectionID(id uint64) zap.Field {
	return zap.Uint64(FieldNameConnectionID, id)
}

func FieldSessionID(id string) zap.Field {
	return zap.String(FieldNameSessionID, id)
}

func FieldReason(reason string) zap.Field {
	return zap.String(FieldNameReason, reason)
}
