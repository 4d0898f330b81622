// Package bal reads and writes problems in the Bundle Adjustment in the Large text format:
//
//	<n_cameras> <n_points> <n_observations>
//	<camera_index> <point_index> <x> <y>    (n_observations lines)
//	<camera parameter>                      (9 per camera, one per line)
//	<point coordinate>                      (3 per point, one per line)
//
// Files ending in .gz or .bz2 are decompressed transparently.
package bal

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/bundle/camera"
)

const (
	// maxCount rejects absurd headers outright.
	maxCount = 1 << 28
	// maxPrealloc caps how many rows are reserved on the header's word alone; larger files grow
	// as their rows are read.
	maxPrealloc = 1 << 16
)

// Problem is the content of a BAL file.
type Problem struct {
	CameraParams  [][]float64
	Points        [][]float64
	CameraIndices []int
	PointIndices  []int
	Pixels        [][]float64
}

// NumCameras returns the number of cameras.
func (p *Problem) NumCameras() int { return len(p.CameraParams) }

// NumPoints returns the number of points.
func (p *Problem) NumPoints() int { return len(p.Points) }

// NumObservations returns the number of observations.
func (p *Problem) NumObservations() int { return len(p.CameraIndices) }

type tokenReader struct {
	scanner *bufio.Scanner
	count   int
}

func (t *tokenReader) next(what string) (string, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", errors.Wrapf(err, "reading %s", what)
		}
		return "", errors.Errorf("unexpected end of input reading %s (token %d)", what, t.count+1)
	}
	t.count++
	return t.scanner.Text(), nil
}

func (t *tokenReader) int(what string) (int, error) {
	tok, err := t.next(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s (token %d)", what, t.count)
	}
	return v, nil
}

func (t *tokenReader) float(what string) (float64, error) {
	tok, err := t.next(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s (token %d)", what, t.count)
	}
	return v, nil
}

// Read parses a BAL problem. Indices are checked against the header counts.
func Read(r io.Reader) (*Problem, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	tr := &tokenReader{scanner: scanner}

	nCameras, err := tr.int("camera count")
	if err != nil {
		return nil, err
	}
	nPoints, err := tr.int("point count")
	if err != nil {
		return nil, err
	}
	nObs, err := tr.int("observation count")
	if err != nil {
		return nil, err
	}
	for _, n := range []int{nCameras, nPoints, nObs} {
		if n < 0 || n > maxCount {
			return nil, errors.Errorf("bad header %d %d %d", nCameras, nPoints, nObs)
		}
	}

	p := &Problem{
		CameraIndices: make([]int, 0, min(nObs, maxPrealloc)),
		PointIndices:  make([]int, 0, min(nObs, maxPrealloc)),
		Pixels:        make([][]float64, 0, min(nObs, maxPrealloc)),
		CameraParams:  make([][]float64, 0, min(nCameras, maxPrealloc)),
		Points:        make([][]float64, 0, min(nPoints, maxPrealloc)),
	}
	for i := 0; i < nObs; i++ {
		what := fmt.Sprintf("observation %d", i)
		camIdx, err := tr.int(what + " camera index")
		if err != nil {
			return nil, err
		}
		ptIdx, err := tr.int(what + " point index")
		if err != nil {
			return nil, err
		}
		if camIdx < 0 || camIdx >= nCameras {
			return nil, errors.Errorf("%s camera index %d out of range [0, %d)", what, camIdx, nCameras)
		}
		if ptIdx < 0 || ptIdx >= nPoints {
			return nil, errors.Errorf("%s point index %d out of range [0, %d)", what, ptIdx, nPoints)
		}
		px := make([]float64, 2)
		for k := range px {
			if px[k], err = tr.float(what + " pixel"); err != nil {
				return nil, err
			}
		}
		p.CameraIndices = append(p.CameraIndices, camIdx)
		p.PointIndices = append(p.PointIndices, ptIdx)
		p.Pixels = append(p.Pixels, px)
	}

	for i := 0; i < nCameras; i++ {
		cam := make([]float64, camera.NumParams)
		for k := range cam {
			if cam[k], err = tr.float(fmt.Sprintf("camera %d parameter %d", i, k)); err != nil {
				return nil, err
			}
		}
		p.CameraParams = append(p.CameraParams, cam)
	}
	for i := 0; i < nPoints; i++ {
		pt := make([]float64, 3)
		for k := range pt {
			if pt[k], err = tr.float(fmt.Sprintf("point %d coordinate %d", i, k)); err != nil {
				return nil, err
			}
		}
		p.Points = append(p.Points, pt)
	}
	return p, nil
}

// ReadFile reads a BAL problem from a file, decompressing by extension.
func ReadFile(fn string) (p *Problem, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var in io.Reader = f
	switch filepath.Ext(fn) {
	case ".gz":
		gin, gerr := gzip.NewReader(f)
		if gerr != nil {
			return nil, errors.Wrapf(gerr, "opening %q", fn)
		}
		defer func() {
			err = multierr.Combine(err, gin.Close())
		}()
		in = gin
	case ".bz2":
		in = bzip2.NewReader(f)
	}
	p, err = Read(in)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", fn)
	}
	return p, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'e', -1, 64)
}

// Write writes a BAL problem. Values are written with the fewest digits that read back exactly.
func Write(w io.Writer, p *Problem) error {
	if len(p.PointIndices) != len(p.CameraIndices) || len(p.Pixels) != len(p.CameraIndices) {
		return errors.New("observation arrays disagree in length")
	}
	out := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(out, "%d %d %d\n", p.NumCameras(), p.NumPoints(), p.NumObservations()); err != nil {
		return err
	}
	for i := range p.CameraIndices {
		if len(p.Pixels[i]) != 2 {
			return errors.Errorf("observation %d has %d pixel coordinates", i, len(p.Pixels[i]))
		}
		if _, err := fmt.Fprintf(out, "%d %d %s %s\n", p.CameraIndices[i], p.PointIndices[i],
			formatFloat(p.Pixels[i][0]), formatFloat(p.Pixels[i][1])); err != nil {
			return err
		}
	}
	for _, rows := range [][][]float64{p.CameraParams, p.Points} {
		for _, row := range rows {
			for _, v := range row {
				if _, err := fmt.Fprintln(out, formatFloat(v)); err != nil {
					return err
				}
			}
		}
	}
	return out.Flush()
}

// WriteFile writes a BAL problem to a file, gzip compressed if the name ends in .gz.
func WriteFile(fn string, p *Problem) (err error) {
	if filepath.Ext(fn) == ".bz2" {
		return errors.Errorf("cannot write %q: bzip2 output is not supported", fn)
	}
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var out io.Writer = f
	if filepath.Ext(fn) == ".gz" {
		gout := gzip.NewWriter(f)
		defer func() {
			err = multierr.Combine(err, gout.Close())
		}()
		out = gout
	}
	return Write(out, p)
}
