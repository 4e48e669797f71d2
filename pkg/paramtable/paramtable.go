// Package paramtable reads the segment parameter table from CSV.
//
// Columns are matched by header name against the csv tags on
// network.Params, so column order is free and unknown columns are ignored.
// Validation of the values themselves is left to network.Build.
package paramtable

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

// Required lists the columns every table must carry.
var Required = []string{"id", "to", "length", "slope", "n", "bw"}

type column struct {
	field int
	kind  reflect.Kind
}

var columns = func() map[string]column {
	m := make(map[string]column)
	t := reflect.TypeOf(network.Params{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if tag := f.Tag.Get("csv"); tag != "" && tag != "-" {
			m[tag] = column{field: i, kind: f.Type.Kind()}
		}
	}
	return m
}()

// Read parses a parameter table.
func Read(r io.Reader) ([]network.Params, error) {
	const op = "paramtable.Read"

	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, routeerr.New(op, routeerr.ErrConfiguration).Detail("read header").Cause(err).Err()
	}

	bound := make([]*column, len(header))
	present := make(map[string]bool, len(header))
	for k, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if c, ok := columns[name]; ok {
			bound[k] = &c
			present[name] = true
		}
	}
	for _, name := range Required {
		if !present[name] {
			return nil, routeerr.Configuration(op, "missing required column %q", name)
		}
	}

	var rows []network.Params
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, routeerr.New(op, routeerr.ErrConfiguration).Detail("line %d", line).Cause(err).Err()
		}

		var p network.Params
		v := reflect.ValueOf(&p).Elem()
		for k, raw := range rec {
			c := bound[k]
			if c == nil {
				continue
			}
			if err := setField(v.Field(c.field), c.kind, strings.TrimSpace(raw)); err != nil {
				return nil, routeerr.New(op, routeerr.ErrConfiguration).
					Detail("line %d column %q", line, header[k]).
					Cause(err).
					Err()
			}
		}
		rows = append(rows, p)
	}
	if len(rows) == 0 {
		return nil, routeerr.Configuration(op, "parameter table has no rows")
	}
	return rows, nil
}

func setField(f reflect.Value, kind reflect.Kind, raw string) error {
	if f.Type() == reflect.TypeOf(network.Method(0)) {
		m, err := network.ParseMethod(raw)
		if err != nil {
			return err
		}
		f.Set(reflect.ValueOf(m))
		return nil
	}
	if raw == "" {
		return nil
	}
	switch kind {
	case reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Float64:
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		f.SetFloat(x)
	default:
		return fmt.Errorf("unsupported column type %s", kind)
	}
	return nil
}

// Load reads the parameter table at path.
func Load(path string) ([]network.Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, routeerr.New("paramtable.Load", routeerr.ErrConfiguration).Detail("%s", path).Cause(err).Err()
	}
	defer f.Close()
	return Read(f)
}

// Write encodes rows as CSV with every known column.
func Write(w io.Writer, rows []network.Params) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "to", "length", "slope", "n", "bw", "cs", "musk_k", "musk_x", "qref", "method", "lake_area", "lake_k"}
	if err := cw.Write(header); err != nil {
		return err
	}
	ff := func(x float64) string { return strconv.FormatFloat(x, 'g', -1, 64) }
	for _, p := range rows {
		rec := []string{
			strconv.FormatInt(p.ID, 10),
			strconv.FormatInt(p.Downstream, 10),
			ff(p.Length), ff(p.Slope), ff(p.Manning), ff(p.BottomWidth), ff(p.SideSlope),
			ff(p.MuskingumK), ff(p.MuskingumX), ff(p.RefFlow),
			p.Method.String(),
			ff(p.ReservoirArea), ff(p.ReservoirK),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
