package workflow

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/menta2k/fruitcount/pkg/client"
	"github.com/menta2k/fruitcount/pkg/cropper"
	"github.com/menta2k/fruitcount/pkg/detect"
	"github.com/menta2k/fruitcount/pkg/types"
	"github.com/menta2k/fruitcount/pkg/weights"
)

const baseURL = "http://127.0.0.1:5000"

type fakeDetector struct {
	mu        sync.Mutex
	detection *client.Detection
	err       error
	calls     int
	payloads  []types.Payload
	release   chan struct{}
	entered   chan struct{}
}

func (f *fakeDetector) Detect(ctx context.Context, payload types.Payload) (*client.Detection, error) {
	f.mu.Lock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	release, entered := f.release, f.entered
	det, err := f.detection, f.err
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	return det, err
}

func (f *fakeDetector) ResolveURL(path string) string {
	if path == "" {
		return ""
	}
	return baseURL + path
}

func (f *fakeDetector) set(det *client.Detection, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detection, f.err = det, err
}

type fakeWeights struct {
	mu      sync.Mutex
	average float64
	pushed  []float64
}

func (f *fakeWeights) GetAverageWeight(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.average, nil
}

func (f *fakeWeights) SetAverageWeight(ctx context.Context, grams float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, grams)
	return nil
}

type fakeFetcher struct {
	data []byte
	ref  string
}

func (f *fakeFetcher) FetchImage(ctx context.Context, ref string) ([]byte, string, error) {
	f.ref = ref
	return f.data, "image/jpeg", nil
}

func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 2), uint8(y * 3), 90, 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test image: %v", err)
	}
	return path
}

func newController(t *testing.T, cropping bool, det *fakeDetector, remote *fakeWeights) *Controller {
	t.Helper()
	var wc client.WeightClient
	if remote != nil {
		wc = remote
	}
	c, err := New(Options{CroppingEnabled: cropping}, Dependencies{
		Weights:   weights.New(wc),
		Submitter: detect.New(det),
		Fetcher:   &fakeFetcher{data: []byte{0xFF, 0xD8, 0xFF, 0xD9}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNewRequiresSubmitter(t *testing.T) {
	if _, err := New(Options{}, Dependencies{}); err == nil {
		t.Error("Expected error without submitter")
	}
}

func TestCroppingHappyPath(t *testing.T) {
	dir := t.TempDir()
	det := &fakeDetector{detection: &client.Detection{Count: 42, AnnotatedPath: "/static/out.jpg"}}
	remote := &fakeWeights{average: 180}
	c := newController(t, true, det, remote)

	c.Start(context.Background())
	c.Wait()

	if err := c.SelectFile(writeTestImage(t, dir, "apples.png")); err != nil {
		t.Fatalf("SelectFile failed: %v", err)
	}
	if c.State() != AwaitingCrop {
		t.Fatalf("Expected AwaitingCrop, got %s", c.State())
	}

	if _, err := c.Submit(context.Background()); !errors.Is(err, detect.ErrNoPayload) {
		t.Fatalf("Expected ErrNoPayload before cropping, got %v", err)
	}

	if err := c.FinalizeCrop(); err != nil {
		t.Fatalf("FinalizeCrop failed: %v", err)
	}
	if c.State() != Cropped {
		t.Fatalf("Expected Cropped, got %s", c.State())
	}

	result, err := c.SubmitAndWait(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Count != 42 {
		t.Errorf("Expected count 42, got %d", result.Count)
	}

	c.SetContainerWeight("18")
	v := c.View()
	if v.AnnotatedURL != baseURL+"/static/out.jpg" {
		t.Errorf("Unexpected annotated URL %s", v.AnnotatedURL)
	}
	if v.Weights.AverageUnitWeight != 180 {
		t.Errorf("Expected loaded average weight 180, got %f", v.Weights.AverageUnitWeight)
	}
	if v.CasesText != "0.42" {
		t.Errorf("Expected cases 0.42, got %q", v.CasesText)
	}
	if v.Busy || v.Error != "" {
		t.Errorf("Unexpected busy/error state: %+v", v)
	}

	if len(det.payloads) != 1 {
		t.Fatalf("Expected one upload, got %d", len(det.payloads))
	}
	sent := det.payloads[0]
	if sent.MIMEType != cropper.MIMEType || sent.Filename != "apples_crop.jpg" {
		t.Errorf("Unexpected payload %s (%s)", sent.Filename, sent.MIMEType)
	}
}

func TestNoCroppingSubmitsRawImage(t *testing.T) {
	dir := t.TempDir()
	det := &fakeDetector{detection: &client.Detection{Count: 5}}
	c := newController(t, false, det, nil)

	path := writeTestImage(t, dir, "crate.png")
	if err := c.SelectFile(path); err != nil {
		t.Fatalf("SelectFile failed: %v", err)
	}
	if c.State() != AwaitingSubmission {
		t.Fatalf("Expected AwaitingSubmission, got %s", c.State())
	}
	if err := c.FinalizeCrop(); err != nil {
		t.Errorf("FinalizeCrop should be a no-op without cropping, got %v", err)
	}

	if _, err := c.SubmitAndWait(context.Background()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	want, _ := os.ReadFile(path)
	sent := det.payloads[0]
	if !bytes.Equal(sent.Data, want) {
		t.Error("Expected raw file bytes to be uploaded")
	}
	if sent.MIMEType != "image/png" || sent.Filename != "crate.png" {
		t.Errorf("Unexpected payload %s (%s)", sent.Filename, sent.MIMEType)
	}

	v := c.View()
	if v.CasesText != "" {
		t.Errorf("Expected no estimate without container weight, got %q", v.CasesText)
	}
	if v.AnnotatedURL != "" {
		t.Errorf("Expected no annotated URL, got %q", v.AnnotatedURL)
	}
}

func TestSubmitWithoutImage(t *testing.T) {
	det := &fakeDetector{}
	c := newController(t, true, det, nil)

	if _, err := c.Submit(context.Background()); !errors.Is(err, detect.ErrNoPayload) {
		t.Errorf("Expected ErrNoPayload, got %v", err)
	}
	if det.calls != 0 {
		t.Errorf("Expected no network calls, got %d", det.calls)
	}
}

func TestNetworkErrorKeepsPriorResult(t *testing.T) {
	dir := t.TempDir()
	det := &fakeDetector{detection: &client.Detection{Count: 10, AnnotatedPath: "/uploads/detections.jpg"}}
	c := newController(t, false, det, nil)

	c.SelectFile(writeTestImage(t, dir, "a.png"))
	if _, err := c.SubmitAndWait(context.Background()); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	det.set(nil, errors.New("connection reset"))
	if _, err := c.SubmitAndWait(context.Background()); err == nil {
		t.Fatal("Expected submit error")
	}

	v := c.View()
	if v.Error != detect.UploadFailedMessage {
		t.Errorf("Expected upload error message, got %q", v.Error)
	}
	if v.Busy {
		t.Error("Busy flag should be cleared")
	}
	if v.Count != 10 || v.AnnotatedURL != baseURL+"/uploads/detections.jpg" {
		t.Errorf("Prior result should survive the failure, got %+v", v.Result)
	}
}

func TestNewFileClearsResultAndCrop(t *testing.T) {
	dir := t.TempDir()
	det := &fakeDetector{detection: &client.Detection{Count: 3, AnnotatedPath: "/x.jpg"}}
	c := newController(t, true, det, nil)

	c.SelectFile(writeTestImage(t, dir, "first.png"))
	c.FinalizeCrop()
	if _, err := c.SubmitAndWait(context.Background()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := c.SelectFile(writeTestImage(t, dir, "second.png")); err != nil {
		t.Fatalf("SelectFile failed: %v", err)
	}

	v := c.View()
	if v.State != AwaitingCrop {
		t.Errorf("Expected AwaitingCrop, got %s", v.State)
	}
	if v.Result != nil || v.CropURL != "" {
		t.Errorf("Expected result and crop to be cleared, got %+v", v)
	}
	if v.ImageName != "second.png" {
		t.Errorf("Expected second.png, got %s", v.ImageName)
	}
	if v.Selection == nil {
		t.Error("Expected a selection while awaiting crop")
	}
}

func TestFinalizeCropWithoutImage(t *testing.T) {
	c := newController(t, true, &fakeDetector{}, nil)

	if err := c.FinalizeCrop(); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}
	if c.State() != NoImage {
		t.Errorf("Expected NoImage, got %s", c.State())
	}
}

func TestEmptySelectionStaysAwaitingCrop(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, true, &fakeDetector{}, nil)
	c.SelectFile(writeTestImage(t, dir, "a.png"))

	if !c.SetSelection(types.Box{X: 0.5, Y: 0.5, W: 0, H: 0}) {
		t.Fatal("SetSelection should apply while awaiting crop")
	}
	if err := c.FinalizeCrop(); !errors.Is(err, cropper.ErrEmptyCrop) {
		t.Errorf("Expected ErrEmptyCrop, got %v", err)
	}
	if c.State() != AwaitingCrop {
		t.Errorf("Expected AwaitingCrop, got %s", c.State())
	}
}

func TestResetCrop(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, true, &fakeDetector{}, nil)

	c.ResetCrop()
	if c.State() != NoImage {
		t.Errorf("Reset without image should stay NoImage, got %s", c.State())
	}

	c.SelectFile(writeTestImage(t, dir, "a.png"))
	c.SetSelection(types.Box{X: 0.1, Y: 0.1, W: 0.5, H: 0.5})
	c.FinalizeCrop()
	if c.SetSelection(types.FullFrame) {
		t.Error("SetSelection should be ignored once cropped")
	}

	c.ResetCrop()
	v := c.View()
	if v.State != AwaitingCrop || v.CropURL != "" {
		t.Errorf("Expected AwaitingCrop with no crop, got %s %q", v.State, v.CropURL)
	}
	if _, err := c.Submit(context.Background()); !errors.Is(err, detect.ErrNoPayload) {
		t.Errorf("Expected ErrNoPayload after reset, got %v", err)
	}

	if err := c.FinalizeCrop(); err != nil || c.State() != Cropped {
		t.Errorf("Re-crop failed: %v, %s", err, c.State())
	}
}

func TestSelectFileFailureKeepsState(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, true, &fakeDetector{}, nil)
	c.SelectFile(writeTestImage(t, dir, "a.png"))

	if err := c.SelectFile(filepath.Join(dir, "notes.txt")); err == nil {
		t.Error("Expected error for non-image file")
	}
	if err := c.SelectFile(""); err != nil {
		t.Errorf("Empty path should be a no-op, got %v", err)
	}

	v := c.View()
	if v.State != AwaitingCrop || v.ImageName != "a.png" {
		t.Errorf("Expected previous image to be kept, got %s %s", v.State, v.ImageName)
	}
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	det := &fakeDetector{
		detection: &client.Detection{Count: 77, AnnotatedPath: "/old.jpg"},
		release:   make(chan struct{}),
		entered:   make(chan struct{}),
	}
	c := newController(t, false, det, nil)
	c.SelectFile(writeTestImage(t, dir, "old.png"))

	done, err := c.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !c.View().Busy {
		t.Error("Expected busy while the call is in flight")
	}
	if _, err := c.Submit(context.Background()); !errors.Is(err, detect.ErrBusy) {
		t.Errorf("Expected ErrBusy for re-entrant submit, got %v", err)
	}

	<-det.entered
	c.SelectFile(writeTestImage(t, dir, "new.png"))
	close(det.release)

	if err := <-done; !errors.Is(err, detect.ErrSuperseded) {
		t.Errorf("Expected ErrSuperseded, got %v", err)
	}

	v := c.View()
	if v.Result != nil {
		t.Errorf("Stale result must not be applied, got %+v", v.Result)
	}
	if v.Busy {
		t.Error("Busy flag should clear once the stale call completes")
	}
	if v.ImageName != "new.png" || v.State != AwaitingSubmission {
		t.Errorf("Unexpected state after reselect: %s %s", v.ImageName, v.State)
	}
}

func TestWeightInputs(t *testing.T) {
	remote := &fakeWeights{average: 150}
	c := newController(t, false, &fakeDetector{}, remote)

	if c.SetAverageUnitWeight("abc") || c.SetAverageUnitWeight("-4") || c.SetAverageUnitWeight("0") {
		t.Error("Invalid average weights should be rejected")
	}
	if !c.SetAverageUnitWeight("200") {
		t.Error("Expected 200 to be accepted")
	}
	if got := c.SetContainerWeight("lots"); got != 0 {
		t.Errorf("Expected bad container weight to become 0, got %f", got)
	}
	c.Wait()

	if len(remote.pushed) != 1 || remote.pushed[0] != 200 {
		t.Errorf("Expected a single push of 200, got %v", remote.pushed)
	}
	if v := c.View(); v.Weights.AverageUnitWeight != 200 || v.Weights.ContainerWeight != 0 {
		t.Errorf("Unexpected weights %+v", v.Weights)
	}
}

func TestSaveAnnotated(t *testing.T) {
	dir := t.TempDir()
	det := &fakeDetector{detection: &client.Detection{Count: 1, AnnotatedPath: "/uploads/detections.jpg"}}
	c := newController(t, false, det, nil)

	out := filepath.Join(dir, "out", "annotated.jpg")
	if err := c.SaveAnnotated(context.Background(), out); !errors.Is(err, ErrNoResult) {
		t.Errorf("Expected ErrNoResult, got %v", err)
	}

	c.SelectFile(writeTestImage(t, dir, "a.png"))
	if _, err := c.SubmitAndWait(context.Background()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := c.SaveAnnotated(context.Background(), out); err != nil {
		t.Fatalf("SaveAnnotated failed: %v", err)
	}

	fetcher := c.fetcher.(*fakeFetcher)
	if fetcher.ref != baseURL+"/uploads/detections.jpg" {
		t.Errorf("Unexpected fetch reference %s", fetcher.ref)
	}
	data, err := os.ReadFile(out)
	if err != nil || !bytes.Equal(data, fetcher.data) {
		t.Errorf("Annotated image not written correctly: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		str   string
		ready bool
	}{
		{NoImage, "no_image", false},
		{AwaitingCrop, "awaiting_crop", false},
		{Cropped, "cropped", true},
		{AwaitingSubmission, "awaiting_submission", true},
	}
	for _, tt := range tests {
		if tt.state.String() != tt.str || tt.state.Ready() != tt.ready {
			t.Errorf("%d: got %s/%v, expected %s/%v", tt.state, tt.state, tt.state.Ready(), tt.str, tt.ready)
		}
	}
}

func TestSaveSelection(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, true, &fakeDetector{}, nil)

	out := filepath.Join(dir, "selection.png")
	if err := c.SaveSelection(out); !errors.Is(err, ErrNoSelection) {
		t.Errorf("Expected ErrNoSelection, got %v", err)
	}

	c.SelectFile(writeTestImage(t, dir, "a.png"))
	if err := c.SaveSelection(out); err != nil {
		t.Fatalf("SaveSelection failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("overlay not written: %v", err)
	}
}
