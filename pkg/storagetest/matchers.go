package storagetest

import (
	"fmt"

	"github.com/onsi/gomega/format"
	"github.com/onsi/gomega/types"

	"github.com/sgl-project/objclient/pkg/storage"
)

// BeCanceledError matches the error a canceled operation settles with.
func BeCanceledError() types.GomegaMatcher {
	return &storageErrorMatcher{name: "canceled error", match: storage.IsCanceled}
}

// BeNotFoundError matches an object or bucket not found error.
func BeNotFoundError() types.GomegaMatcher {
	return &storageErrorMatcher{name: "not found error", match: storage.IsNotFound}
}

// HaveStorageCode matches a *storage.Error, possibly wrapped, carrying code.
func HaveStorageCode(code storage.Code) types.GomegaMatcher {
	return &storageErrorMatcher{
		name:  fmt.Sprintf("storage error with code %q", code),
		match: func(err error) bool { return storage.CodeOf(err) == code },
	}
}

type storageErrorMatcher struct {
	name  string
	match func(error) bool
}

func (m *storageErrorMatcher) Match(actual interface{}) (bool, error) {
	if actual == nil {
		return false, nil
	}
	err, ok := actual.(error)
	if !ok {
		return false, fmt.Errorf("expected an error to be a %s, got %s", m.name, format.Object(actual, 1))
	}
	return m.match(err), nil
}

func (m *storageErrorMatcher) FailureMessage(actual interface{}) string {
	return format.Message(actual, "to be a "+m.name)
}

func (m *storageErrorMatcher) NegatedFailureMessage(actual interface{}) string {
	return format.Message(actual, "not to be a "+m.name)
}
