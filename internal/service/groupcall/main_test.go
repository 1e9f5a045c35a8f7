package groupcall

import (
	"os"
	"testing"

	"go.uber.org/zap"

	"voicelink-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}
