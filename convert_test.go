package lsyolo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// fakeImages resolves every record to /src/<filename> and records links instead of creating them.
type fakeImages struct {
	missing map[string]bool
	links   map[string]string
}

func newFakeImages(missing ...string) *fakeImages {
	f := &fakeImages{missing: map[string]bool{}, links: map[string]string{}}
	for _, m := range missing {
		f.missing[m] = true
	}
	return f
}

func (f *fakeImages) Resolve(r LabeledRecord) (string, bool) {
	name := r.ImageFilename()
	return "/src/" + name, !f.missing[name]
}

func (f *fakeImages) Link(src, dst string) error {
	f.links[dst] = src
	return nil
}

func rect(label string, x, y, w, h float64) Annotation {
	return Annotation{Type: RectangleLabels, Label: label, Box: Box{X: x, Y: y, Width: w, Height: h}}
}

func record(id int64, file string, annotations ...Annotation) LabeledRecord {
	return LabeledRecord{ID: id, Image: "/data/local-files/?d=images/" + file, Annotations: annotations}
}

func convert(t *testing.T, fs afero.Fs, images ImageStore, opts Options, records Records) Result {
	t.Helper()
	res, err := NewConverter(fs, images, logs.NewTestingLog(t), opts).Convert(records, "/out")
	require.NoError(t, err)
	return res
}

func listFiles(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	names := []string{}
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func readString(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

func TestConvertLabelLine(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := DefaultOptions()
	opts.TrainSplit = 1
	res := convert(t, fs, newFakeImages(), opts, Records{
		record(1, "img.jpg", rect("Person", 10, 20, 30, 40)),
	})

	require.Equal(t, 1, res.Train)
	require.Equal(t, 0, res.Val)
	require.Equal(t, "0 0.250000 0.400000 0.300000 0.400000",
		readString(t, fs, "/out/labels/train/img.txt"))
}

func TestConvertMultipleLinesNoTrailingNewline(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := DefaultOptions()
	opts.TrainSplit = 1
	convert(t, fs, newFakeImages(), opts, Records{
		record(1, "a.png", rect("Car", 0, 0, 50, 50), rect("Car", 50, 50, 50, 50)),
	})

	require.Equal(t, "0 0.250000 0.250000 0.500000 0.500000\n0 0.750000 0.750000 0.500000 0.500000",
		readString(t, fs, "/out/labels/train/a.txt"))
}

func TestConvertSplitCounts(t *testing.T) {
	for _, tc := range []struct {
		n     int
		split float64
		train int
	}{
		{10, 0.8, 8},
		{7, 0.5, 3},
		{3, 0.0, 0},
		{3, 1.0, 3},
		{1, 0.8, 0},
	} {
		t.Run(fmt.Sprintf("%d@%v", tc.n, tc.split), func(t *testing.T) {
			var records Records
			for i := 0; i < tc.n; i++ {
				records = append(records, record(int64(i), fmt.Sprintf("%02d.jpg", i), rect("x", 1, 1, 1, 1)))
			}

			fs := afero.NewMemMapFs()
			images := newFakeImages()
			opts := DefaultOptions()
			opts.TrainSplit = tc.split
			res := convert(t, fs, images, opts, records)

			require.Equal(t, tc.train, res.Train)
			require.Equal(t, tc.n-tc.train, res.Val)
			require.Len(t, listFiles(t, fs, "/out/labels/train"), tc.train)
			require.Len(t, listFiles(t, fs, "/out/labels/val"), tc.n-tc.train)
			require.Len(t, images.links, tc.n)

			// Every record lands in exactly one split.
			seen := map[string]string{}
			for dst := range images.links {
				split := filepath.Base(filepath.Dir(dst))
				name := filepath.Base(dst)
				require.NotContains(t, seen, name)
				seen[name] = split
			}
			require.Len(t, seen, tc.n)
		})
	}
}

func TestConvertTrainMembershipFollowsShuffle(t *testing.T) {
	var records Records
	for i := 0; i < 10; i++ {
		records = append(records, record(int64(i), fmt.Sprintf("%d.jpg", i), rect("x", 1, 1, 1, 1)))
	}

	fs := afero.NewMemMapFs()
	convert(t, fs, newFakeImages(), DefaultOptions(), records)

	train, val := records.Split(0.8, DefaultSeed)
	for _, r := range train {
		ok, err := afero.Exists(fs, "/out/labels/train/"+stem(r.ImageFilename())+".txt")
		require.NoError(t, err)
		require.True(t, ok)
	}
	for _, r := range val {
		ok, err := afero.Exists(fs, "/out/labels/val/"+stem(r.ImageFilename())+".txt")
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestConvertDeterministic(t *testing.T) {
	labels := []string{"cat", "dog", "bird", "fish"}
	var records Records
	for i := 0; i < 23; i++ {
		records = append(records, record(int64(i), fmt.Sprintf("img%d.jpg", i),
			rect(labels[i%len(labels)], float64(i), 5, 10, 10),
			rect(labels[(i*3)%len(labels)], 50, float64(i), 20, 5)))
	}

	snapshot := func() (map[string]string, []string) {
		fs := afero.NewMemMapFs()
		res := convert(t, fs, newFakeImages(), DefaultOptions(), records)
		files := map[string]string{}
		require.NoError(t, afero.Walk(fs, "/out", func(path string, info os.FileInfo, err error) error {
			require.NoError(t, err)
			if !info.IsDir() {
				files[path] = readString(t, fs, path)
			}
			return nil
		}))
		return files, res.Catalog.Names()
	}

	files1, names1 := snapshot()
	files2, names2 := snapshot()
	require.Equal(t, files1, files2)
	require.Equal(t, names1, names2)
}

func TestConvertFirstSeenClassIDs(t *testing.T) {
	records := Records{
		record(1, "a.jpg", rect("Person", 1, 1, 1, 1), rect("Car", 1, 1, 1, 1)),
		record(2, "b.jpg", rect("Dog", 1, 1, 1, 1)),
		record(3, "c.jpg", rect("Car", 1, 1, 1, 1), rect("Person", 1, 1, 1, 1)),
		record(4, "d.jpg", rect("Bus", 1, 1, 1, 1), rect("Person", 1, 1, 1, 1)),
		record(5, "e.jpg"),
	}

	var expected []string
	seen := map[string]bool{}
	for _, r := range records.Shuffle(DefaultSeed) {
		for _, a := range r.Annotations {
			if !seen[a.Label] {
				seen[a.Label] = true
				expected = append(expected, a.Label)
			}
		}
	}

	fs := afero.NewMemMapFs()
	res := convert(t, fs, newFakeImages(), DefaultOptions(), records)
	require.Equal(t, expected, res.Catalog.Names())

	// "Person" appears in three records and always maps to the same ID.
	personID, ok := res.Catalog.Lookup("Person")
	require.True(t, ok)
	for _, split := range []string{SplitTrain, SplitVal} {
		for _, name := range listFiles(t, fs, "/out/labels/"+split) {
			content := readString(t, fs, "/out/labels/"+split+"/"+name)
			if name == "b.txt" {
				continue
			}
			require.Contains(t, content, fmt.Sprintf("%d 0.015000", personID))
		}
	}

	var classes strings.Builder
	for i, name := range expected {
		fmt.Fprintf(&classes, "%d: %s\n", i, name)
	}
	require.Equal(t, classes.String(), readString(t, fs, "/out/classes.txt"))

	m, err := ReadManifest(fs, "/out/data.yaml")
	require.NoError(t, err)
	require.Equal(t, "/out", m.Path)
	require.Equal(t, "images/train", m.Train)
	require.Equal(t, "images/val", m.Val)
	require.Equal(t, len(expected), m.NC)
	require.Equal(t, expected, m.Names)
}

func TestConvertIgnoresNonRectangles(t *testing.T) {
	fs := afero.NewMemMapFs()
	images := newFakeImages()
	opts := DefaultOptions()
	opts.TrainSplit = 1
	res := convert(t, fs, images, opts, Records{
		record(1, "poly.jpg", Annotation{Type: "polygonlabels", Label: "Person"}, Annotation{Type: "choices"}),
	})

	require.Equal(t, 0, res.Train+res.Val)
	require.Equal(t, 0, res.Catalog.Len())
	require.Empty(t, listFiles(t, fs, "/out/labels/train"))
	require.Len(t, images.links, 1)
}

func TestConvertEmptyInput(t *testing.T) {
	fs := afero.NewMemMapFs()
	res := convert(t, fs, newFakeImages(), DefaultOptions(), nil)

	for _, dir := range []string{"images/train", "images/val", "labels/train", "labels/val"} {
		ok, err := afero.DirExists(fs, "/out/"+dir)
		require.NoError(t, err)
		require.True(t, ok, dir)
		require.Empty(t, listFiles(t, fs, "/out/"+dir))
	}

	manifest := readString(t, fs, "/out/data.yaml")
	require.Contains(t, manifest, "nc: 0\n")
	require.Contains(t, manifest, "names: []\n")
	require.Equal(t, "", readString(t, fs, "/out/classes.txt"))
	require.Equal(t, "/out/data.yaml", res.ManifestPath)
	require.Equal(t, "/out/classes.txt", res.ClassesPath)
}

func TestConvertMissingImage(t *testing.T) {
	records := Records{
		record(1, "gone.jpg", rect("Ghost", 1, 1, 1, 1)),
		record(2, "here.jpg", rect("Person", 1, 1, 1, 1)),
	}
	opts := DefaultOptions()
	opts.TrainSplit = 1

	// The label survives without the image.
	fs := afero.NewMemMapFs()
	images := newFakeImages("gone.jpg")
	res := convert(t, fs, images, opts, records)
	require.Equal(t, 2, res.Train)
	require.Equal(t, 1, res.MissingImages)
	require.Equal(t, 1, res.Linked)
	require.ElementsMatch(t, []string{"gone.txt", "here.txt"}, listFiles(t, fs, "/out/labels/train"))
	require.Equal(t, map[string]string{"/out/images/train/here.jpg": "/src/here.jpg"}, images.links)

	// With RequireImage the record is skipped entirely and its label never gets an ID.
	opts.RequireImage = true
	fs = afero.NewMemMapFs()
	res = convert(t, fs, newFakeImages("gone.jpg"), opts, records)
	require.Equal(t, 1, res.Train)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, []string{"Person"}, res.Catalog.Names())
	require.Equal(t, []string{"here.txt"}, listFiles(t, fs, "/out/labels/train"))
}

func TestConvertBoxPolicies(t *testing.T) {
	records := Records{
		record(1, "a.jpg", rect("in", 10, 10, 10, 10), rect("out", 90, 90, 20, 20), rect("gone", 120, 0, 5, 5)),
	}

	for _, tc := range []struct {
		policy   BoxPolicy
		lines    []string
		rejected int
	}{
		{BoxPass, []string{
			"0 0.150000 0.150000 0.100000 0.100000",
			"1 1.000000 1.000000 0.200000 0.200000",
			"2 1.225000 0.025000 0.050000 0.050000",
		}, 0},
		{BoxClamp, []string{
			"0 0.150000 0.150000 0.100000 0.100000",
			"1 0.950000 0.950000 0.100000 0.100000",
		}, 1},
		{BoxReject, []string{
			"0 0.150000 0.150000 0.100000 0.100000",
		}, 2},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			opts := DefaultOptions()
			opts.TrainSplit = 1
			opts.BoxPolicy = tc.policy
			res := convert(t, fs, newFakeImages(), opts, records)
			require.Equal(t, tc.rejected, res.Rejected)
			require.Equal(t, strings.Join(tc.lines, "\n"), readString(t, fs, "/out/labels/train/a.txt"))
			require.Equal(t, len(tc.lines), res.Catalog.Len())
		})
	}
}

func TestConvertPinnedCatalog(t *testing.T) {
	pinned := NewLabelCatalog()
	pinned.ID("Truck")
	pinned.ID("Person")

	opts := DefaultOptions()
	opts.TrainSplit = 1
	opts.Catalog = pinned
	fs := afero.NewMemMapFs()
	res := convert(t, fs, newFakeImages(), opts, Records{
		record(1, "a.jpg", rect("Person", 10, 20, 30, 40), rect("Bike", 10, 20, 30, 40)),
	})

	require.Equal(t, []string{"Truck", "Person", "Bike"}, res.Catalog.Names())
	require.Equal(t, 2, pinned.Len())
	require.Equal(t, "1 0.250000 0.400000 0.300000 0.400000\n2 0.250000 0.400000 0.300000 0.400000",
		readString(t, fs, "/out/labels/train/a.txt"))
}

func TestConvertSkipsEmptyFilename(t *testing.T) {
	fs := afero.NewMemMapFs()
	res := convert(t, fs, newFakeImages(), DefaultOptions(), Records{
		{ID: 9, Image: "/data/local-files/?d=images/", Annotations: []Annotation{rect("x", 1, 1, 1, 1)}},
	})
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 0, res.Catalog.Len())
}

func TestConvertOverwritesPreviousRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := DefaultOptions()
	opts.TrainSplit = 1
	convert(t, fs, newFakeImages(), opts, Records{record(1, "a.jpg", rect("x", 0, 0, 10, 10))})
	convert(t, fs, newFakeImages(), opts, Records{record(1, "a.jpg", rect("x", 0, 0, 20, 20))})
	require.Equal(t, "0 0.100000 0.100000 0.200000 0.200000", readString(t, fs, "/out/labels/train/a.txt"))

	files := listFiles(t, fs, "/out")
	sort.Strings(files)
	require.Equal(t, []string{"classes.txt", "data.yaml", "images", "labels"}, files)
}
