package eventstore

import (
	"github.com/asaskevich/govalidator"

	"github.com/coreflux/eventcore/pkg/message"
)

// Validator checks a single event for structural validity before commit. A
// caller-supplied Validator overrides defaultValidator.
type Validator func(e message.Event) error

// typeShape is the tagged projection govalidator enforces the "non-empty
// string" half of §4.1.3 against — the same delegation-to-a-tagged-struct
// technique the teacher's ProtobufValidator uses for commands, scaled down
// to the one field a struct tag expresses better than hand-written code.
type typeShape struct {
	Type string `valid:"required"`
}

func init() {
	govalidator.SetFieldsRequiredByDefault(false)
}

// defaultValidator implements §4.1.3's default event validator: non-null
// record; type a non-empty string; at least one of aggregateId/sagaId set;
// if sagaId is set, sagaVersion is defined.
func defaultValidator(e message.Event) error {
	if ok, err := govalidator.ValidateStruct(typeShape{Type: e.Type}); !ok {
		if err != nil {
			return NewValidationError("type", err.Error())
		}
		return NewValidationError("type", "must be a non-empty string")
	}

	if message.IsZero(e.AggregateID) && message.IsZero(e.SagaID) {
		return NewValidationError("aggregateId/sagaId", "at least one of aggregateId or sagaId must be set")
	}
	if !message.IsZero(e.SagaID) && e.SagaVersion == nil {
		return NewValidationError("sagaVersion", "must be defined whenever sagaId is set")
	}
	return nil
}
