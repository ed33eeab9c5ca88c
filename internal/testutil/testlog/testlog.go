package testlog

import (
	"testing"

	"github.com/danmuck/amqpengine/internal/logging"
)

// Start configures test logging once and tags the test name in the output.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logging.Infof("test=%s", t.Name())
}
