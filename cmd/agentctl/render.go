package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/agentlink/internal/keyblob"
	"github.com/danmuck/agentlink/internal/protocol/message"
)

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.GreenString("✓")+" "+fmt.Sprintf(format, args...))
}

func printEntries(w io.Writer, entries []message.KeyCert) {
	if len(entries) == 0 {
		fmt.Fprintln(w, color.YellowString("no entries"))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s %s %s\n",
			color.CyanString(keyblob.Fingerprint(e.Blob)),
			e.Encoding,
			e.Description,
		)
	}
}

func printData(w io.Writer, data []byte, asHex bool) {
	fmt.Fprintln(w, encodeData(data, asHex))
}

func writeMetrics(w io.Writer, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("agentctl gather metrics")
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			log.Warn().Err(err).Msg("agentctl write metrics")
			return
		}
	}
}
