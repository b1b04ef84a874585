package fuzzer

import (
	"sort"

	"intercept/internal/repository"
)

type fieldKind int

const (
	fieldURL fieldKind = iota
	fieldHeader
	fieldBody
)

type fieldSpan struct {
	kind       fieldKind
	headerName string
	start, end int
}

// template is the concatenated byte serialisation of an attack's URL,
// header values, and body. Positions are byte ranges [start,end) into
// this concatenated buffer: URL, then each header value, then body, in
// that order. Header values are ordered by header name for determinism,
// since Go map iteration is not stable.
type template struct {
	buf   []byte
	spans []fieldSpan
}

func buildTemplate(a *repository.Attack) *template {
	var buf []byte
	var spans []fieldSpan

	start := len(buf)
	buf = append(buf, a.URLTemplate...)
	spans = append(spans, fieldSpan{kind: fieldURL, start: start, end: len(buf)})

	names := make([]string, 0, len(a.HeaderTemplates))
	for name := range a.HeaderTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		start := len(buf)
		buf = append(buf, a.HeaderTemplates[name]...)
		spans = append(spans, fieldSpan{kind: fieldHeader, headerName: name, start: start, end: len(buf)})
	}

	start = len(buf)
	buf = append(buf, a.BodyTemplate...)
	spans = append(spans, fieldSpan{kind: fieldBody, start: start, end: len(buf)})

	return &template{buf: buf, spans: spans}
}

// rendered is one materialised request built from a template substitution.
type rendered struct {
	url     string
	headers map[string]string
	body    string
}

// substitute splices payloads into the template at the given positions.
// payloads[i] == nil leaves position i untouched (its original template
// text stays in place); this is how sniper mode holds every position but
// one at its baseline value. Positions are applied from highest Start to
// lowest so that earlier, not-yet-processed offsets stay valid.
func (t *template) substitute(positions []repository.Position, payloads []*string) rendered {
	buf := append([]byte(nil), t.buf...)
	spans := make([]fieldSpan, len(t.spans))
	copy(spans, t.spans)

	order := make([]int, 0, len(positions))
	for i, p := range payloads {
		if p != nil {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(i, j int) bool { return positions[order[i]].Start > positions[order[j]].Start })

	for _, idx := range order {
		pos := positions[idx]
		payload := *payloads[idx]
		delta := len(payload) - (pos.End - pos.Start)

		tail := append([]byte(nil), buf[pos.End:]...)
		buf = append(buf[:pos.Start:pos.Start], payload...)
		buf = append(buf, tail...)

		for i := range spans {
			switch {
			case spans[i].start >= pos.End:
				// Entirely after the substitution: both bounds shift.
				spans[i].start += delta
				spans[i].end += delta
			case spans[i].start <= pos.Start && spans[i].end >= pos.End:
				// The field containing the substitution: only its end
				// moves, since everything before pos.Start is untouched.
				spans[i].end += delta
			}
		}
	}

	r := rendered{headers: make(map[string]string)}
	for _, sp := range spans {
		val := string(buf[sp.start:sp.end])
		switch sp.kind {
		case fieldURL:
			r.url = val
		case fieldHeader:
			r.headers[sp.headerName] = val
		case fieldBody:
			r.body = val
		}
	}
	return r
}

// validatePositions checks that positions lie within the template
// buffer and do not overlap one another.
func validatePositions(t *template, positions []repository.Position) error {
	n := len(t.buf)
	sorted := append([]repository.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i, p := range sorted {
		if p.Start < 0 || p.End > n || p.Start > p.End {
			return errInvalidConfig("position out of bounds")
		}
		if i > 0 && p.Start < sorted[i-1].End {
			return errInvalidConfig("overlapping positions")
		}
	}
	return nil
}
