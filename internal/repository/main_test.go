package repository_test

import (
	"os"
	"testing"

	"github.com/qrpay/reconciler/internal/testutil/dblock"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}
