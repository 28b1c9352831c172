package app

import (
	"strings"

	"gqrxsched/internal/dispatch"
	"gqrxsched/internal/schedule"
	"gqrxsched/internal/transport"
	logx "gqrxsched/pkg/logx"
)

// mapLogConfig builds the logging config from the [logging] section. A
// non-empty override replaces the configured level.
func mapLogConfig(l schedule.Logging, levelOverride string) logx.Config {
	level := strings.TrimSpace(l.Level)
	if o := strings.TrimSpace(levelOverride); o != "" {
		level = o
	}
	if level == "" {
		level = "info"
	}
	file := strings.TrimSpace(l.File)
	return logx.Config{
		Level:   level,
		Console: true,
		File: logx.FileConfig{
			Enabled: file != "",
			Path:    file,
		},
	}
}

func mapTransportConfig(c schedule.ConnectionSettings) transport.Config {
	dial := c.DialTimeout
	if dial <= 0 {
		dial = schedule.DefaultDialTimeout
	}
	return transport.Config{
		Host:        c.Host,
		Port:        c.Port,
		DialTimeout: dial,
		ReadTimeout: c.ReadTimeout,
	}
}

func mapDispatchConfig(c schedule.ConnectionSettings, opts Options) dispatch.Config {
	return dispatch.Config{
		Out:         opts.Out,
		RateLimit:   c.RateLimit,
		HistorySize: opts.HistorySize,
	}
}
