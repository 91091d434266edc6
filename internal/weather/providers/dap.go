package providers

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NetCDF fill values are large sentinels; anything beyond this is missing.
const fillThreshold = 1e30

// dapDim is one named dimension of a DAP2 array.
type dapDim struct {
	Name string
	Size int
}

// dapVar is an array (or the ARRAY part of a Grid) declared in a DDS.
type dapVar struct {
	Name string
	Type string
	Dims []dapDim
}

// dapDataset is the structure of a remote dataset: variables from the .dds
// and units from the .das.
type dapDataset struct {
	Name  string
	Vars  map[string]dapVar
	Order []string
	Units map[string]string
}

var (
	ddsDecl    = regexp.MustCompile(`^\s*(\w+)\s+([\w.\-]+)((?:\[[^\]]+\])*)\s*;\s*$`)
	ddsDim     = regexp.MustCompile(`\[\s*(?:([\w.\-]+)\s*=\s*)?(\d+)\s*\]`)
	ddsClose   = regexp.MustCompile(`^\s*}\s*([\w.\-]+)\s*;\s*$`)
	dasUnits   = regexp.MustCompile(`^\s*String\s+units\s+"([^"]*)"\s*;\s*$`)
	dasBlock   = regexp.MustCompile(`^\s*([\w.\-]+)\s*{\s*$`)
	asciiBlock = regexp.MustCompile(`^([\w.\-]+)((?:\[\d+\])+)\s*$`)
	asciiIndex = regexp.MustCompile(`^(?:\[\d+\])+\s*,?`)
)

// parseDDS reads a Dataset Descriptor Structure. Grid MAPS are skipped since
// they repeat the coordinate arrays declared at the top level.
func parseDDS(body []byte) (dapDataset, error) {
	ds := dapDataset{Vars: make(map[string]dapVar), Units: make(map[string]string)}

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	depth := 0
	inMaps := false
	seenDataset := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "Dataset") && strings.HasSuffix(line, "{"):
			seenDataset = true
			depth++
		case strings.HasSuffix(line, "{"):
			depth++
		case line == "ARRAY:":
			inMaps = false
		case line == "MAPS:":
			inMaps = true
		case ddsClose.MatchString(line):
			depth--
			inMaps = false
			if depth == 0 {
				ds.Name = ddsClose.FindStringSubmatch(line)[1]
			}
		default:
			m := ddsDecl.FindStringSubmatch(line)
			if m == nil || inMaps {
				continue
			}
			v := dapVar{Type: m[1], Name: m[2]}
			for _, d := range ddsDim.FindAllStringSubmatch(m[3], -1) {
				size, err := strconv.Atoi(d[2])
				if err != nil {
					return dapDataset{}, fmt.Errorf("dds: dimension of %s: %w", v.Name, err)
				}
				v.Dims = append(v.Dims, dapDim{Name: d[1], Size: size})
			}
			if _, dup := ds.Vars[v.Name]; !dup {
				ds.Order = append(ds.Order, v.Name)
			}
			ds.Vars[v.Name] = v
		}
	}
	if err := sc.Err(); err != nil {
		return dapDataset{}, fmt.Errorf("dds: %w", err)
	}
	if !seenDataset || depth != 0 {
		return dapDataset{}, fmt.Errorf("dds: not a dataset description")
	}
	return ds, nil
}

// parseDAS collects the units attribute of each variable.
func parseDAS(body []byte) map[string]string {
	units := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var stack []string
	for sc.Scan() {
		line := sc.Text()
		if m := dasBlock.FindStringSubmatch(line); m != nil {
			stack = append(stack, m[1])
			continue
		}
		if strings.TrimSpace(line) == "}" {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if m := dasUnits.FindStringSubmatch(line); m != nil && len(stack) > 0 {
			units[stack[len(stack)-1]] = m[1]
		}
	}
	return units
}

// parseASCII reads the data section of a .ascii response into flat,
// row-major value slices keyed by the block name (e.g. "x" or
// "air_temperature_2m.air_temperature_2m"). Fill values become NaN.
func parseASCII(body []byte) (map[string][]float64, error) {
	_, data, found := bytes.Cut(body, []byte("\n---"))
	if !found {
		return nil, fmt.Errorf("ascii: missing data separator")
	}
	// Skip the rest of the dashed separator line.
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	} else {
		data = nil
	}

	out := make(map[string][]float64)
	var (
		current string
		want    int
	)
	finish := func() error {
		if current != "" && len(out[current]) != want {
			return fmt.Errorf("ascii: %s: got %d values, want %d", current, len(out[current]), want)
		}
		return nil
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := asciiBlock.FindStringSubmatch(line); m != nil {
			if err := finish(); err != nil {
				return nil, err
			}
			current = m[1]
			want = 1
			for _, d := range ddsDim.FindAllStringSubmatch(m[2], -1) {
				n, _ := strconv.Atoi(d[2])
				want *= n
			}
			out[current] = make([]float64, 0, want)
			continue
		}
		if current == "" {
			return nil, fmt.Errorf("ascii: data before block header: %q", line)
		}

		line = asciiIndex.ReplaceAllString(line, "")
		for _, field := range strings.Split(line, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("ascii: %s: %w", current, err)
			}
			if math.Abs(v) > fillThreshold {
				v = math.NaN()
			}
			out[current] = append(out[current], v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ascii: %w", err)
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// lookup returns a variable's values regardless of whether the server
// labelled the block "name" or "name.name" (Grid arrays).
func lookup(values map[string][]float64, name string) ([]float64, bool) {
	if v, ok := values[name+"."+name]; ok {
		return v, true
	}
	v, ok := values[name]
	return v, ok
}

// parseTimeUnits decodes a CF "<unit> since <reference>" string.
func parseTimeUnits(units string) (step time.Duration, ref time.Time, err error) {
	unit, refText, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q: missing reference", units)
	}

	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "secs", "sec", "s":
		step = time.Second
	case "minutes", "minute", "mins", "min":
		step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return 0, time.Time{}, fmt.Errorf("time units %q: unsupported unit", units)
	}

	refText = strings.TrimSpace(refText)
	for _, layout := range []string{
		"2006-01-02 15:04:05 -07:00",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	} {
		if t, perr := time.Parse(layout, refText); perr == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("time units %q: unparseable reference", units)
}

// decodeTimes converts raw time-axis values to UTC instants. NaN entries
// become the zero time.
func decodeTimes(raw []float64, units string) ([]time.Time, error) {
	if units == "" {
		units = "seconds since 1970-01-01 00:00:00"
	}
	step, ref, err := parseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) {
			continue
		}
		out[i] = ref.Add(time.Duration(math.Round(v * float64(step))))
	}
	return out, nil
}
