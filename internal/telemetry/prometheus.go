package telemetry

import (
	"fmt"
	"sort"
	"strings"
)

func writeHelpType(sb *strings.Builder, name, help, typ string) {
	sb.WriteString("# HELP ")
	sb.WriteString(name)
	sb.WriteString(" ")
	sb.WriteString(help)
	sb.WriteString("\n# TYPE ")
	sb.WriteString(name)
	sb.WriteString(" ")
	sb.WriteString(typ)
	sb.WriteString("\n")
}

func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(labels[k])
		sb.WriteString(`"`)
	}
	sb.WriteString("}")
}

func writeCounter(sb *strings.Builder, c *Counter) {
	writeHelpType(sb, c.name, c.help, "counter")
	sb.WriteString(c.name)
	sb.WriteString(" ")
	fmt.Fprintf(sb, "%d\n", c.Value())
}

func writeGauge(sb *strings.Builder, g *Gauge) {
	writeHelpType(sb, g.name, g.help, "gauge")
	sb.WriteString(g.name)
	sb.WriteString(" ")
	fmt.Fprintf(sb, "%.0f\n", g.Value())
}

func writeHistogram(sb *strings.Builder, h *Histogram) {
	writeHelpType(sb, h.name, h.help, "histogram")
	buckets, counts, sum, count := h.snapshot()
	for i, bound := range buckets {
		sb.WriteString(h.name)
		sb.WriteString(`_bucket{le="`)
		fmt.Fprintf(sb, "%g", bound)
		sb.WriteString(`"} `)
		fmt.Fprintf(sb, "%d\n", counts[i])
	}
	sb.WriteString(h.name)
	sb.WriteString(`_bucket{le="+Inf"} `)
	fmt.Fprintf(sb, "%d\n", counts[len(counts)-1])
	sb.WriteString(h.name)
	sb.WriteString("_sum ")
	fmt.Fprintf(sb, "%g\n", sum)
	sb.WriteString(h.name)
	sb.WriteString("_count ")
	fmt.Fprintf(sb, "%d\n", count)
}

func writeCounterVec(sb *strings.Builder, cv *CounterVec) {
	entries := cv.snapshot()
	if len(entries) == 0 {
		return
	}
	writeHelpType(sb, cv.name, cv.help, "counter")
	for _, e := range entries {
		sb.WriteString(cv.name)
		writeLabels(sb, e.labels)
		sb.WriteString(" ")
		fmt.Fprintf(sb, "%d\n", e.value)
	}
}

func writeHistogramVec(sb *strings.Builder, hv *HistogramVec) {
	entries := hv.snapshot()
	if len(entries) == 0 {
		return
	}
	writeHelpType(sb, hv.name, hv.help, "histogram")
	for _, e := range entries {
		for i, bound := range e.buckets {
			sb.WriteString(hv.name)
			sb.WriteString("_bucket")
			labelsWithLE := withLE(e.labels, fmt.Sprintf("%g", bound))
			writeLabels(sb, labelsWithLE)
			sb.WriteString(" ")
			fmt.Fprintf(sb, "%d\n", e.counts[i])
		}
		sb.WriteString(hv.name)
		sb.WriteString("_bucket")
		writeLabels(sb, withLE(e.labels, "+Inf"))
		sb.WriteString(" ")
		fmt.Fprintf(sb, "%d\n", e.counts[len(e.counts)-1])

		sb.WriteString(hv.name)
		sb.WriteString("_sum")
		writeLabels(sb, e.labels)
		sb.WriteString(" ")
		fmt.Fprintf(sb, "%g\n", e.sum)

		sb.WriteString(hv.name)
		sb.WriteString("_count")
		writeLabels(sb, e.labels)
		sb.WriteString(" ")
		fmt.Fprintf(sb, "%d\n", e.count)
	}
}

func withLE(labels map[string]string, le string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out["le"] = le
	return out
}
