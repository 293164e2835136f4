package health

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Checker reports whether a dependency of the running process is usable.
type Checker interface {
	Check() error
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc func() error

func (f CheckFunc) Check() error {
	return f()
}

// MultiChecker is healthy only if every registered checker is healthy. Failures are reported
// under the name the checker was added with.
type MultiChecker struct {
	checkers map[string]Checker
}

func NewMultiChecker() *MultiChecker {
	return &MultiChecker{checkers: map[string]Checker{}}
}

// Add registers checker under name, replacing any checker already registered under it.
func (mc *MultiChecker) Add(name string, checker Checker) *MultiChecker {
	mc.checkers[name] = checker
	return mc
}

func (mc *MultiChecker) Check() error {
	names := maps.Keys(mc.checkers)
	slices.Sort(names)
	var result *multierror.Error
	for _, name := range names {
		if err := mc.checkers[name].Check(); err != nil {
			result = multierror.Append(result, errors.WithMessage(err, name))
		}
	}
	return result.ErrorOrNil()
}
