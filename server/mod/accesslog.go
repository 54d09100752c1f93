package mod

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sluiceproxy/sluice/conf"
	"github.com/sluiceproxy/sluice/contrib/log"
	"github.com/sluiceproxy/sluice/metrics"
	xhttp "github.com/sluiceproxy/sluice/pkg/x/http"
)

func HandleAccessLog(opt *conf.ServerAccessLog, next http.HandlerFunc) http.HandlerFunc {
	if !opt.Enabled {
		log.Infof("access-log is turned off")
		return wrap(next)
	}

	var writeLine func(buf []byte)
	if opt.Path == "" {
		log.Warnf("access-log `path` is empty, will be written to stdout")
		writeLine = func(buf []byte) { log.Info(string(buf)) }
	} else {
		logWriter := newAccessLog(opt.Path)
		writeLine = func(buf []byte) { logWriter.Info(string(buf)) }
	}

	if opt.Encrypt.Enabled {
		inner := writeLine
		secret := opt.Encrypt.Secret
		writeLine = func(buf []byte) { inner(encryptLine(buf, secret)) }
	}

	return func(w http.ResponseWriter, req *http.Request) {
		fillRequest(req)

		req, metric := metrics.WithRequestMetric(req)
		recorder := xhttp.NewResponseRecorder(w)

		defer func() {
			metric.SentResp = recorder.SentBytes()
			writeLine(WithNormalFields(req, recorder))
		}()

		next(recorder, req)
	}
}

// encryptLine replaces the whole line in buf with its hex HMAC-SHA256
// digest keyed by secret; no field of the original line is kept.
func encryptLine(buf []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(buf)
	return []byte(hex.EncodeToString(mac.Sum(nil)))
}

func newAccessLog(path string) *zap.Logger {
	// initialize log file path
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     1,
		LocalTime:  true,
		Compress:   false,
	}

	cfg := zap.NewProductionConfig().EncoderConfig
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {}
	cfg.EncodeLevel = func(_ zapcore.Level, _ zapcore.PrimitiveArrayEncoder) {}

	logWriter := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(f),
		zapcore.InfoLevel,
	))

	return logWriter
}
