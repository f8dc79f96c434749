package logger

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// ensureInstanceID: явный id, иначе POD_NAME (k8s), иначе hostname + короткий uuid.
func ensureInstanceID(v string) string {
	if v != "" {
		return v
	}
	if pod := os.Getenv("POD_NAME"); pod != "" {
		return pod
	}

	hn, _ := os.Hostname()
	return hn + "-" + uuid.NewString()[:8]
}

func commonAttr(cfg Config) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return attrs
}

// Component — логгер подсистемы, каждая запись несёт component=name.
func Component(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
