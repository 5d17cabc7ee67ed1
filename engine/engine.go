package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/drummonds/feedbackd/database"
	"github.com/drummonds/feedbackd/llm"
	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Import sources, used as metric labels
const (
	SourceText  = "text"
	SourceFile  = "file"
	SourceImage = "image"
)

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrOCRDisabled     = errors.New("tesseract is not configured")
	ErrNoText          = errors.New("no text found")
)

// ImportStats counts the outcome of one import
type ImportStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// splitFeedback returns the non-blank lines of content, one feedback each
func splitFeedback(content string) []string {
	content = strings.TrimPrefix(content, "\ufeff")
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// importFeedback analyzes lines concurrently, then records them one at a
// time so that similar lines of the same batch end up in the same problem
func (serverHandler *ServerHandler) importFeedback(ctx context.Context, source string, lines []string) (ulid.ULID, ImportStats) {
	started := time.Now()
	batchID := database.NewBatchID()
	stats := ImportStats{Total: len(lines)}
	defer func() {
		serverHandler.Metrics.ImportDuration.WithLabelValues(source).Observe(time.Since(started).Seconds())
		serverHandler.Metrics.FeedbackLines.WithLabelValues(source, "success").Add(float64(stats.Success))
		serverHandler.Metrics.FeedbackLines.WithLabelValues(source, "failed").Add(float64(stats.Failed))
	}()
	if len(lines) == 0 {
		return batchID, stats
	}

	analyses := make([]llm.Analysis, len(lines))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, serverHandler.ServerConfig.Concurrency))
	for i, line := range lines {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			analyses[i] = serverHandler.Analyzer.Analyze(groupCtx, line)
			serverHandler.Metrics.Analyses.WithLabelValues(analyses[i].Source).Inc()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		Logger.Warn("Import cancelled before analysis finished", "batch", batchID, "error", err)
		stats.Failed = stats.Total
		return batchID, stats
	}

	serverHandler.mergeMu.Lock()
	defer serverHandler.mergeMu.Unlock()
	problems, err := serverHandler.DB.GetAllProblems(ctx)
	if err != nil {
		Logger.Error("Unable to load problems for grouping", "batch", batchID, "error", err)
		stats.Failed = stats.Total
		return batchID, stats
	}
	for i, line := range lines {
		analysis := analyses[i]
		rec := database.FeedbackRecord{
			Content:  line,
			BatchID:  batchID,
			Summary:  analysis.Summary,
			Type:     analysis.Type,
			Severity: analysis.Severity,
		}
		match := llm.FindSimilar(analysis.Summary, problems, serverHandler.ServerConfig.SimilarityThreshold)
		if match != nil {
			rec.ProblemID = match.ID
		}
		_, problem, err := serverHandler.DB.RecordFeedback(ctx, rec)
		if err != nil {
			Logger.Error("Unable to record feedback", "batch", batchID, "line", i+1, "error", err)
			stats.Failed++
			continue
		}
		stats.Success++
		if match != nil {
			*match = *problem
		} else {
			problems = append(problems, *problem)
			serverHandler.Metrics.ProblemsCreated.Inc()
		}
		if serverHandler.SearchDB != nil {
			if err := database.IndexProblem(problem, serverHandler.SearchDB); err != nil {
				Logger.Warn("Unable to index problem", "id", problem.ID, "error", err)
			}
		}
	}
	Logger.Info("Imported feedback", "batch", batchID, "source", source, "total", stats.Total, "success", stats.Success, "failed", stats.Failed)
	return batchID, stats
}

// extractFileText returns the text of an uploaded file. Text files are read
// as UTF-8, PDFs are read directly and OCRed when they carry no text layer,
// images are OCRed.
func (serverHandler *ServerHandler) extractFileText(ctx context.Context, fileName string, data []byte) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".txt", ".csv", ".text", "":
		if !utf8.Valid(data) {
			Logger.Warn("Uploaded file is not valid UTF-8, replacing invalid bytes", "fileName", fileName)
		}
		return strings.ToValidUTF8(string(data), "\ufffd"), nil
	case ".pdf":
		fullText, err := pdfProcessing(fileName, data)
		if err == nil {
			return fullText, nil
		}
		img, err := convertToImage(fileName, data)
		if err != nil {
			return "", err
		}
		return serverHandler.ocrProcessing(ctx, img)
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif":
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return "", fmt.Errorf("unable to decode image %s: %w", fileName, err)
		}
		return serverHandler.ocrProcessing(ctx, img)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
}

func pdfProcessing(fileName string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		Logger.Error("Unable to open PDF", "fileName", fileName, "error", err)
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		Logger.Error("Unable to convert PDF to text", "fileName", fileName, "error", err)
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	fullText := strings.TrimSpace(buf.String())
	if fullText == "" {
		Logger.Info("PDF has no text layer, sending to OCR", "fileName", fileName)
		return "", ErrNoText
	}
	Logger.Info("Text processed from PDF without OCR", "fileName", fileName)
	return fullText, nil
}

// convertToImage renders every page of a PDF and stacks them vertically
func convertToImage(fileName string, data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		Logger.Error("Unable to open PDF document", "fileName", fileName, "error", err)
		return nil, err
	}
	defer doc.Close()

	var pages []image.Image
	width, height := 0, 0
	for n := 0; n < doc.NumPage(); n++ {
		img, err := doc.Image(n)
		if err != nil {
			Logger.Error("Unable to render page", "fileName", fileName, "page", n, "error", err)
			continue
		}
		pages = append(pages, img)
		height += img.Bounds().Dy()
		width = max(width, img.Bounds().Dx())
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages could be rendered from %s", fileName)
	}
	if len(pages) == 1 {
		return pages[0], nil
	}
	combined := imaging.New(width, height, color.White)
	y := 0
	for _, page := range pages {
		combined = imaging.Paste(combined, page, image.Pt(0, y))
		y += page.Bounds().Dy()
	}
	return combined, nil
}

// ocrProcessing runs tesseract over a cleaned up copy of img
func (serverHandler *ServerHandler) ocrProcessing(ctx context.Context, img image.Image) (string, error) {
	if serverHandler.ServerConfig.TesseractPath == "" {
		return "", ErrOCRDisabled
	}
	processed := imaging.Sharpen(imaging.Resize(imaging.Grayscale(img), 1024, 0, imaging.Lanczos), 1.0)

	tempFile, err := os.CreateTemp("", "feedbackd-ocr-*.png")
	if err != nil {
		return "", err
	}
	defer os.Remove(tempFile.Name())
	if err := png.Encode(tempFile, processed); err != nil {
		tempFile.Close()
		return "", fmt.Errorf("unable to encode PNG image: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	tesseractCMD := exec.CommandContext(ctx, serverHandler.ServerConfig.TesseractPath, tempFile.Name(), "stdout")
	tesseractCMD.Stdout = &stdout
	tesseractCMD.Stderr = &stderr
	Logger.Debug("Running tesseract", "command", tesseractCMD.String())
	if err := tesseractCMD.Run(); err != nil {
		Logger.Error("Tesseract encountered error when attempting to OCR image", "detail", stderr.String(), "error", err)
		return "", err
	}
	fullText := strings.TrimSpace(stdout.String())
	if fullText == "" {
		return "", ErrNoText
	}
	return fullText, nil
}
