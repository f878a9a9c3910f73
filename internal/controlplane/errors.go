package controlplane

const (
	errInternalServer  = "internal server error"
	errScheduleNotFound = "schedule not found"
	errHandlerUnknown  = "handler unknown"
	errMethodUnknown   = "method not advertised by handler"
	errInvalidTrigger  = "trigger is malformed or never fires"
	errDuplicate       = "schedule id already exists"
	errRecordNotFound  = "execution record not found"
)
