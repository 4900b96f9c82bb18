package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pdf-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const defaultPageNumber = 1

var (
	docxParagraphRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxTextRe      = regexp.MustCompile(`(?s)<w:t(?:\s[^>]*)?>(.*?)</w:t>`)
	pptxTextRe      = regexp.MustCompile(`(?s)<a:t>(.*?)</a:t>`)
	pptxSlideRe     = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	blankLinesRe    = regexp.MustCompile(`\n{3,}`)
)

// Supported reports whether Load understands the file extension of path.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// Load reads a document into one text record per page. Formats without pages (docx,
// markdown, text) yield a single record; spreadsheets and slide decks yield one per sheet
// or slide.
func Load(filePath string) ([]models.Page, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return LoadPDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".md", ".markdown":
		return parseMarkdown(filePath)
	case ".txt":
		return parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: unsupported file format: %s", models.ErrValidation, ext)
	}
}

// LoadPDF returns the plain text of every page of the PDF at filePath, numbered from 1.
// Pages are attributed to the base name of the file.
func LoadPDF(filePath string) (pages []models.Page, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIO, err)
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIO, err)
	}

	// the pdf package panics on some malformed object graphs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %s: %v", models.ErrParse, filepath.Base(filePath), r)
		}
	}()

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrParse, filepath.Base(filePath), err)
	}

	source := filepath.Base(filePath)
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %w", models.ErrParse, source, i, err)
		}
		pages = append(pages, models.Page{
			Source:     source,
			PageNumber: i,
			Content:    pageText,
		})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]models.Page, error) {
	if err := checkReadable(filePath); err != nil {
		return nil, err
	}
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrParse, err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range docxParagraphRe.FindAllString(content, -1) {
		var line strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(p, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	return singlePage(filePath, strings.Join(paragraphs, "\n\n")), nil
}

func parsePPTX(filePath string) ([]models.Page, error) {
	if err := checkReadable(filePath); err != nil {
		return nil, err
	}
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrParse, err)
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := pptxSlideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	source := filepath.Base(filePath)
	var pages []models.Page
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: slide %d: %w", models.ErrParse, s.num, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: slide %d: %w", models.ErrParse, s.num, err)
		}
		pages = append(pages, models.Page{
			Source:     source,
			PageNumber: s.num,
			Content:    extractTextFromXML(string(data)),
		})
	}
	return pages, nil
}

func parseXLSX(filePath string) ([]models.Page, error) {
	if err := checkReadable(filePath); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrParse, err)
	}
	defer f.Close()

	source := filepath.Base(filePath)
	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %s: %w", models.ErrParse, sheetName, err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Sheet: %s\n", sheetName)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		pages = append(pages, models.Page{
			Source:     source,
			PageNumber: sheetNum + 1, // 1-based indexing
			Content:    b.String(),
		})
	}
	return pages, nil
}

func parseMarkdown(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIO, err)
	}
	return singlePage(filePath, markdownToText(data)), nil
}

func parseText(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIO, err)
	}
	return singlePage(filePath, string(data)), nil
}

// markdownToText drops markdown syntax and keeps the text, one blank line between blocks.
func markdownToText(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *ast.CodeBlock, *ast.FencedCodeBlock:
				b.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(b.String(), "\n\n"))
}

func extractTextFromXML(xmlContent string) string {
	var parts []string
	for _, m := range pptxTextRe.FindAllStringSubmatch(xmlContent, -1) {
		parts = append(parts, html.UnescapeString(m[1]))
	}
	return strings.Join(parts, " ")
}

func singlePage(filePath, content string) []models.Page {
	return []models.Page{{
		Source:     filepath.Base(filePath),
		PageNumber: defaultPageNumber,
		Content:    content,
	}}
}

func checkReadable(filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("%w: %w", models.ErrIO, err)
	}
	return nil
}
