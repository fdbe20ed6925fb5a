package delegate_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDelegate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Delegate Coordinator Suite")
}
