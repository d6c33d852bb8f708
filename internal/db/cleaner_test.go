package db

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atinyakov/PLMSync/internal/metrics"
)

func bufferLogger(buf *bytes.Buffer, level zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(buf),
		level,
	)
	return zap.New(core)
}

func TestFindOrphanFiles(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT COALESCE\\(array_agg").
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"ids"}).AddRow("{f1,f2}"))

	ids, err := FindOrphanFiles(context.Background(), dbMock, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "f1" || ids[1] != "f2" {
		t.Errorf("ids = %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStartOrphanReporter_Reports(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectQuery("FROM files f").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"ids"}).AddRow("{f1,f2,f3}"))

	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartOrphanReporter(ctx, dbMock, 10*time.Millisecond, time.Hour, bufferLogger(&buf, zapcore.WarnLevel))

	time.Sleep(200 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	if !strings.Contains(buf.String(), "orphan files need linking or removal") {
		t.Errorf("expected warn log, got:\n%s", buf.String())
	}
	if got := testutil.ToFloat64(metrics.OrphanFiles); got != 3 {
		t.Errorf("orphan gauge = %v; want 3", got)
	}
}

func TestStartOrphanReporter_ErrorLogged(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectQuery("FROM files f").
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(fmt.Errorf("db fail"))

	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartOrphanReporter(ctx, dbMock, 10*time.Millisecond, time.Hour, bufferLogger(&buf, zapcore.ErrorLevel))

	time.Sleep(200 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	if !strings.Contains(buf.String(), "failed to find orphan files") {
		t.Errorf("expected error log, got:\n%s", buf.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStartOrphanReporter_CancelBeforeTicker(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	ctx, cancel := context.WithCancel(context.Background())

	StartOrphanReporter(ctx, dbMock, 100*time.Millisecond, time.Hour, zap.NewNop())
	cancel()

	time.Sleep(50 * time.Millisecond)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected sql calls: %v", err)
	}
}
