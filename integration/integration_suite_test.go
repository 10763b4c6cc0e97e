// Package integration contains end-to-end tests for VigilGo. Each scenario
// runs the full in-process stack: HTTP API, queue, evaluation pipeline,
// alert manager, notification dispatch, and the audit log.
package integration

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "VigilGo Integration Suite")
}
