package store

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/millifluidic/internal/change"
	"github.com/cwbudde/millifluidic/internal/pipeline"
)

// writeArtifacts writes the arrays, renders and CSV of a result into dir.
func writeArtifacts(dir string, result *pipeline.Result) error {
	cm := result.ChangeMap

	if err := writeNpy(filepath.Join(dir, ChangeMapFile), mat.NewDense(cm.Height, cm.Width, cm.Values())); err != nil {
		return err
	}
	if err := writeNpy(filepath.Join(dir, KeysFile), result.Keys()); err != nil {
		return err
	}
	if err := writeNpy(filepath.Join(dir, AreasFile), result.AreaValues()); err != nil {
		return err
	}

	if err := writePNG(filepath.Join(dir, ChangeMapPNGFile), RenderChangeMap(cm)); err != nil {
		return err
	}
	if result.ReferenceMask != nil {
		if err := writePNG(filepath.Join(dir, ReferencePNGFile), RenderMask(result.ReferenceMask)); err != nil {
			return err
		}
	}

	return writeAreaCSV(filepath.Join(dir, AreasCSVFile), result.Areas)
}

func writeNpy(path string, val any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if err := npyio.Write(f, val); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeAreaCSV(path string, samples []pipeline.AreaSample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"index", "key", "area"}); err != nil {
		return fmt.Errorf("failed to write area header: %w", err)
	}
	for _, s := range samples {
		row := []string{
			strconv.Itoa(s.Index),
			strconv.FormatFloat(s.Key, 'g', -1, 64),
			strconv.FormatFloat(s.Area, 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write area row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func readAreaCSV(path string) ([]pipeline.AreaSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	samples := make([]pipeline.AreaSample, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) != 3 {
			return nil, fmt.Errorf("malformed area row %d", i)
		}
		idx, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("malformed area index on row %d: %w", i, err)
		}
		key, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed area key on row %d: %w", i, err)
		}
		a, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed area value on row %d: %w", i, err)
		}
		samples = append(samples, pipeline.AreaSample{Index: idx, Key: key, Area: a})
	}
	return samples, nil
}

func readChangeMap(path string) (*change.Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	rows, cols := m.Dims()
	values := make([]float64, 0, rows*cols)
	for y := 0; y < rows; y++ {
		values = append(values, m.RawRowView(y)...)
	}
	return change.NewMap(cols, rows, values), nil
}
