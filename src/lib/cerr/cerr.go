package cerr

import (
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
)

// F is a shorthand for attaching multiple fields at once.
type F map[string]interface{}

type field struct {
	key   string
	value interface{}
}

// ErrorContext accumulates fields and a wrapped cause before
// the terminal Error call mints the actual error value.
type ErrorContext struct {
	fields  []field
	wrapped error
}

func Field(key string, value interface{}) ErrorContext {
	return ErrorContext{}.Field(key, value)
}

func Fields(f F) ErrorContext {
	return ErrorContext{}.Fields(f)
}

func Wrap(err error) ErrorContext {
	return ErrorContext{}.Wrap(err)
}

func Error(msg string) error {
	return ErrorContext{}.Error(msg)
}

func (c ErrorContext) Field(key string, value interface{}) ErrorContext {
	newFields := make([]field, 0, len(c.fields)+1)
	newFields = append(newFields, c.fields...)
	newFields = append(newFields, field{key: key, value: value})

	return ErrorContext{
		fields:  newFields,
		wrapped: c.wrapped,
	}
}

func (c ErrorContext) Fields(f F) ErrorContext {
	next := c
	for key, value := range f {
		next = next.Field(key, value)
	}

	return next
}

func (c ErrorContext) Wrap(err error) ErrorContext {
	return ErrorContext{
		fields:  c.fields,
		wrapped: err,
	}
}

func (c ErrorContext) Error(msg string) error {
	var err error
	if c.wrapped != nil {
		err = errors.Wrap(c.wrapped, msg)
	} else {
		err = errors.New(msg)
	}

	for _, f := range c.fields {
		err = errors.WithDetail(err, fmt.Sprintf("%s: %+v", f.key, f.value))
	}

	return err
}

// Log reports an error with all its accumulated details attached.
func Log(err error) {
	details := errors.GetAllDetails(err)
	if len(details) == 0 {
		log.Error(err.Error())
		return
	}

	log.WithField("details", strings.Join(details, ", ")).Error(err.Error())
}
