package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	LoadErrors       *prometheus.CounterVec
	SymbolsLoaded    *prometheus.CounterVec
	BuildIDMismatch  prometheus.Counter
	UnknownSymbols   prometheus.Counter
	DebugFileMissing prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symres_load_errors_total",
			Help: "Total number of errors while loading symbols from a binary",
		}, []string{"dso_type"}),
		SymbolsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symres_symbols_loaded_total",
			Help: "Total number of symbols loaded, by binary type",
		}, []string{"dso_type"}),
		BuildIDMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symres_build_id_mismatch_total",
			Help: "Total number of debug file candidates rejected by build-id comparison",
		}),
		UnknownSymbols: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symres_unknown_symbols_total",
			Help: "Total number of address lookups not covered by any symbol",
		}),
		DebugFileMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symres_debug_file_missing_total",
			Help: "Total number of binaries whose debug file could not be located",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LoadErrors,
			m.SymbolsLoaded,
			m.BuildIDMismatch,
			m.UnknownSymbols,
			m.DebugFileMissing,
		)
	}

	return m
}
