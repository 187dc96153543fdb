package index

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestTableSource_FiltersAndSorts(t *testing.T) {
	path := writeTable(t, `index,elapsedTime,use,imageFile,notes
4,30.5,True,frame4.tif,late
1,0,True,frame1.tif,
2,12.25,False,frame2.tif,blurred
3,7.5,True,frame3.tif,
5,40,false,frame5.tif,
`)

	list, err := TableSource{Path: path}.Build()
	require.NoError(t, err)
	require.Equal(t, 3, list.Len())
	require.Equal(t, DesignatorElapsedTime, list.Designator)
	require.Equal(t, filepath.Dir(path), list.Dir)

	var keys []float64
	var indices []int
	for _, r := range list.Records {
		keys = append(keys, r.Key())
		indices = append(indices, r.Index)
	}
	require.True(t, sort.Float64sAreSorted(keys), "keys not sorted: %v", keys)
	require.Equal(t, []int{1, 3, 4}, indices)
	require.Equal(t, 0.0, list.Reference().Key())
}

func TestTableSource_ExplicitDir(t *testing.T) {
	path := writeTable(t, "index,elapsedTime,use,imageFile\n1,0,true,a.png\n")

	list, err := TableSource{Dir: "/data/images", Path: path}.Build()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/data/images", "a.png"), list.Path(list.Records[0]))
}

func TestTableSource_DataErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"missing columns", "index,use,imageFile\n1,true,a.png\n"},
		{"duplicate index", "index,elapsedTime,use,imageFile\n1,0,true,a.png\n1,2,false,b.png\n"},
		{"bad index", "index,elapsedTime,use,imageFile\nx,0,true,a.png\n"},
		{"bad use", "index,elapsedTime,use,imageFile\n1,0,maybe,a.png\n"},
		{"bad elapsed", "index,elapsedTime,use,imageFile\n1,soon,true,a.png\n"},
		{"nan elapsed", "index,elapsedTime,use,imageFile\n1,5,true,a.png\n2,NaN,true,b.png\n3,1,true,c.png\n"},
		{"infinite elapsed", "index,elapsedTime,use,imageFile\n1,0,true,a.png\n2,+Inf,true,b.png\n"},
		{"no used rows", "index,elapsedTime,use,imageFile\n1,0,false,a.png\n"},
		{"short row", "index,elapsedTime,use,imageFile\n1,0,true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TableSource{Path: writeTable(t, tt.content)}.Build()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrData), "expected DataError, got %v", err)
		})
	}
}

func TestTableSource_MissingFile(t *testing.T) {
	_, err := TableSource{Path: filepath.Join(t.TempDir(), "missing.csv")}.Build()
	require.ErrorIs(t, err, ErrData)
}

func TestRecordKey(t *testing.T) {
	ts := 2.5
	require.Equal(t, 7.0, Record{Index: 7}.Key())
	require.Equal(t, 2.5, Record{Index: 7, Timestamp: &ts}.Key())
}
