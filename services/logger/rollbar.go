package logsvc

import (
	"fmt"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/user"
)

// RollbarLogger reports to Rollbar and writes the same entries to a local zap logger.
type RollbarLogger struct {
	sink *zap.SugaredLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(sink *zap.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{sink: sink.Sugar()}
}

// NewZapLogger returns the local sink: human-readable in debug, JSON otherwise.
func NewZapLogger(name string, debug bool) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment(zap.AddCallerSkip(2))
	} else {
		logger, err = zap.NewProduction(zap.AddCallerSkip(2))
	}
	if err != nil {
		return nil, err
	}
	return logger.Named(name), nil
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, []interface{}) {
	var usrSet bool
	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	kv := make([]interface{}, 0, 2*len(args))
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet { // only set one User
				rollbar.SetPerson(a.ID, a.Name, a.Email)
				kv = append(kv, "user_id", a.ID)
				usrSet = true
			}
		case error:
			rbArgs = append(rbArgs, a)
			kv = append(kv, "error", a)
		case map[string]interface{}:
			rbArgs = append(rbArgs, redactMap(a))
			for k, v := range a {
				kv = append(kv, k, redact(k, v))
			}
		default:
			rbArgs = append(rbArgs, a)
			kv = append(kv, "arg", a)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return rbArgs, kv
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rbArgs, kv := l.prepare(msg, args)
	rollbar.Debug(rbArgs...)
	l.sink.Debugw(msg, kv...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rbArgs, kv := l.prepare(msg, args)
	rollbar.Info(rbArgs...)
	l.sink.Infow(msg, kv...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rbArgs, kv := l.prepare(msg, args)
	rollbar.Warning(rbArgs...)
	l.sink.Warnw(msg, kv...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rbArgs, kv := l.prepare(msg, args)
	rollbar.Error(rbArgs...)
	l.sink.Errorw(msg, kv...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rbArgs, kv := l.prepare(msg, args)
	rollbar.Critical(rbArgs...)
	rollbar.Wait()
	l.sink.Fatalw(msg, kv...)
}

// Sync flushes the local sink.
func (l RollbarLogger) Sync() error {
	return l.sink.Sync()
}

var sensitiveKeys = []string{"password", "token", "secret", "signature", "authorization", "api_key"}

func redactMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = redact(k, v)
	}
	return out
}

func redact(key string, val interface{}) interface{} {
	lk := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lk, s) {
			return "[REDACTED]"
		}
	}
	if strings.Contains(lk, "email") {
		return MaskEmail(fmt.Sprint(val))
	}
	return val
}

// MaskEmail keeps the first letter of the local part and the domain: j***@example.com.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
