package paramtable

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

const confluenceCSV = `# A,B -> C -> D
id,to,length,slope,n,bw,cs,method,comment
4,0,1000,0.001,0.035,10,2,mc,outlet
3,4,1000,0.001,0.035,10,2,diffusive,confluence
1,3,1000,0.001,0.035,10,2,,headwater A
2,3,1000,0.001,0.035,10,2,,headwater B
`

func TestRead(t *testing.T) {
	rows, err := Read(strings.NewReader(confluenceCSV))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	if rows[1].ID != 3 || rows[1].Downstream != 4 || rows[1].Method != network.Diffusive {
		t.Errorf("row 2 = %+v", rows[1])
	}
	if rows[2].Method != network.MuskingumCunge || rows[2].SideSlope != 2 {
		t.Errorf("row 3 = %+v", rows[2])
	}

	if _, err := network.Build(rows); err != nil {
		t.Errorf("parsed table does not build: %v", err)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := map[string]string{
		"missing column": "id,to,length,slope,n\n1,0,1,1,1\n",
		"bad number":     "id,to,length,slope,n,bw\n1,0,long,1,1,1\n",
		"bad method":     "id,to,length,slope,n,bw,method\n1,0,1,1,1,1,kinematic\n",
		"no rows":        "id,to,length,slope,n,bw\n",
		"empty":          "",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(in)); !errors.Is(err, routeerr.ErrConfiguration) {
				t.Errorf("got %v, want configuration error", err)
			}
		})
	}
}

func TestWriteThenLoad(t *testing.T) {
	rows, err := Read(strings.NewReader(confluenceCSV))
	if err != nil {
		t.Fatal(err)
	}
	rows[0].ReservoirArea = 1.5e4
	rows[0].MuskingumK, rows[0].MuskingumX = 1200, 0.25

	var buf bytes.Buffer
	if err := Write(&buf, rows); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "params.csv")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(rows, loaded) {
		t.Errorf("loaded rows differ:\n got %+v\nwant %+v", loaded, rows)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.csv")); !errors.Is(err, routeerr.ErrConfiguration) {
		t.Errorf("missing file: got %v", err)
	}
}
