package pipeline

import (
	"github.com/pkg/errors"
)

// Error classes surfaced by the pipeline and the dataset read path. Concrete
// errors wrap one of these; match with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransform     = errors.New("transform error")
	ErrStore         = errors.New("store error")
	ErrIndex         = errors.New("index error")
)

type classified struct {
	class error
	cause error
}

func (e *classified) Error() string {
	return e.class.Error() + ": " + e.cause.Error()
}

func (e *classified) Unwrap() []error {
	return []error{e.class, e.cause}
}

// classify tags cause with class while keeping cause reachable via errors.Is.
func classify(class, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, class) {
		return cause
	}
	return &classified{class: class, cause: cause}
}

func configErrorf(format string, args ...interface{}) error {
	return classify(ErrConfiguration, errors.Errorf(format, args...))
}

func transformErrorf(format string, args ...interface{}) error {
	return classify(ErrTransform, errors.Errorf(format, args...))
}
