package services

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasttemplate"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
)

//go:embed print_templates/*.html
var defaultTemplates embed.FS

const (
	voucherStart     = "<!--voucher-->"
	voucherEnd       = "<!--/voucher-->"
	maxTemplateBytes = 256 << 10

	fallbackVendor  = "Tanpa Vendor"
	fallbackCompany = "WiFi Hotspot"
)

// printTemplates maps template names to the only files that may be read or
// written in the template directory
var printTemplates = map[string]string{
	"a4":      "template_a4.html",
	"thermal": "template_thermal.html",
}

// PrintOptions selects the template and page behaviour
type PrintOptions struct {
	Template  string `query:"template"`
	AutoPrint bool   `query:"autoprint"`
}

// TemplateInfo describes one print template file
type TemplateInfo struct {
	Name     string     `json:"name"`
	File     string     `json:"file"`
	Size     int64      `json:"size"`
	Modified *time.Time `json:"modified,omitempty"`
	Custom   bool       `json:"custom"`
}

// PrintService renders vouchers into printable HTML pages
type PrintService struct {
	db       *gorm.DB
	settings *SettingsService
	dir      string
	now      func() time.Time
}

// NewPrintService creates a print service reading templates from dir
func NewPrintService(db *gorm.DB, settings *SettingsService, dir string) *PrintService {
	return &PrintService{db: db, settings: settings, dir: dir, now: time.Now}
}

// templateFile resolves a template name ("a4" or "template_a4.html")
func templateFile(name string) (string, error) {
	name = strings.TrimSpace(name)
	if file, ok := printTemplates[name]; ok {
		return file, nil
	}
	for _, file := range printTemplates {
		if name == file {
			return file, nil
		}
	}
	return "", fmt.Errorf("template %q: %w", name, ErrNotAllowed)
}

// EnsureTemplates writes the built-in templates into the template directory
// when they are missing
func (s *PrintService) EnsureTemplates() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	for _, file := range printTemplates {
		path := filepath.Join(s.dir, file)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := defaultTemplates.ReadFile("print_templates/" + file)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		log.WithField("file", path).Info("Installed default print template")
	}
	return nil
}

// ListTemplates returns the allow-listed templates and whether they exist
func (s *PrintService) ListTemplates() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(printTemplates))
	for _, name := range []string{"a4", "thermal"} {
		file := printTemplates[name]
		info := TemplateInfo{Name: name, File: file}
		if st, err := os.Stat(filepath.Join(s.dir, file)); err == nil {
			mod := st.ModTime()
			info.Size = st.Size()
			info.Modified = &mod
			info.Custom = true
		}
		out = append(out, info)
	}
	return out
}

// ReadTemplate returns the contents of an allow-listed template file
func (s *PrintService) ReadTemplate(name string) (string, error) {
	file, err := templateFile(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("template %s %w", file, ErrNotFound)
	}
	return string(data), err
}

// UpdateTemplate replaces an allow-listed template file
func (s *PrintService) UpdateTemplate(name, content string) error {
	file, err := templateFile(name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return invalid("template content is empty")
	}
	if len(content) > maxTemplateBytes {
		return invalid("template is larger than %s", humanize.IBytes(maxTemplateBytes))
	}
	if _, _, err := splitTemplate(content); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, file+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, file)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	log.WithField("file", file).Info("Print template updated")
	return nil
}

// Preview renders a template with a sample voucher
func (s *PrintService) Preview(ctx context.Context, name string) (string, error) {
	now := s.now()
	sample := models.Voucher{
		Code:      "ABC123",
		Password:  "ABC123",
		PriceSell: 5000,
		Profile: &models.Profile{
			Name:       "1 Hari",
			Validity:   "1d",
			QuotaBytes: 2 << 30,
		},
		CreatedAt: now,
	}
	return s.render(ctx, []models.Voucher{sample}, PrintOptions{Template: name})
}

// PrintBatch renders every voucher of a batch
func (s *PrintService) PrintBatch(ctx context.Context, batchID string, opts PrintOptions) (string, error) {
	var count int64
	s.db.WithContext(ctx).Model(&models.VoucherBatch{}).Where("id = ?", batchID).Count(&count)
	if count == 0 {
		return "", fmt.Errorf("batch %w", ErrNotFound)
	}
	var vouchers []models.Voucher
	err := s.db.WithContext(ctx).Preload("Profile").Preload("Vendor").
		Where("batch_id = ?", batchID).Order("id").Find(&vouchers).Error
	if err != nil {
		return "", err
	}
	return s.render(ctx, vouchers, opts)
}

// PrintVouchers renders the given vouchers in id order
func (s *PrintService) PrintVouchers(ctx context.Context, ids []uint, opts PrintOptions) (string, error) {
	if len(ids) == 0 {
		return "", invalid("no voucher ids given")
	}
	if len(ids) > MaxBatchSize {
		return "", invalid("at most %d vouchers can be printed at once", MaxBatchSize)
	}
	var vouchers []models.Voucher
	err := s.db.WithContext(ctx).Preload("Profile").Preload("Vendor").
		Where("id IN ?", ids).Order("id").Find(&vouchers).Error
	if err != nil {
		return "", err
	}
	if len(vouchers) == 0 {
		return "", fmt.Errorf("voucher %w", ErrNotFound)
	}
	return s.render(ctx, vouchers, opts)
}

// ParseIDs splits a comma separated id list
func ParseIDs(raw string) ([]uint, error) {
	var ids []uint
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil || id == 0 {
			return nil, invalid("invalid voucher id %q", part)
		}
		ids = append(ids, uint(id))
	}
	if len(ids) == 0 {
		return nil, invalid("no voucher ids given")
	}
	return ids, nil
}

func (s *PrintService) load(name string) (string, error) {
	file, err := templateFile(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		data, err = defaultTemplates.ReadFile("print_templates/" + file)
	}
	return string(data), err
}

// splitTemplate separates the page layout from the per-voucher block
func splitTemplate(content string) (layout, block string, err error) {
	start := strings.Index(content, voucherStart)
	end := strings.Index(content, voucherEnd)
	if start < 0 || end < start {
		return "", "", invalid("template needs a %s ... %s block", voucherStart, voucherEnd)
	}
	layout = content[:start] + content[end+len(voucherEnd):]
	block = content[start+len(voucherStart) : end]
	if !strings.Contains(layout, "{Vouchers}") {
		return "", "", invalid("template layout needs a {Vouchers} tag")
	}
	if _, err := fasttemplate.NewTemplate(block, "{", "}"); err != nil {
		return "", "", invalid("voucher block: %v", err)
	}
	if _, err := fasttemplate.NewTemplate(layout, "{", "}"); err != nil {
		return "", "", invalid("layout: %v", err)
	}
	return layout, block, nil
}

func (s *PrintService) render(ctx context.Context, vouchers []models.Voucher, opts PrintOptions) (string, error) {
	name := opts.Template
	if name == "" {
		name = s.settings.String(ctx, models.SettingTemplateName, "a4")
	}
	content, err := s.load(name)
	if err != nil {
		return "", err
	}
	layout, block, err := splitTemplate(content)
	if err != nil {
		return "", err
	}

	f := s.formatter(ctx)
	company := s.settings.String(ctx, models.SettingCompanyName, fallbackCompany)
	voucherTpl := fasttemplate.New(block, "{", "}")

	var b strings.Builder
	for i := range vouchers {
		tags := f.voucherTags(&vouchers[i], i+1)
		tags["Company"] = company
		voucherTpl.ExecuteFunc(&b, keepUnknown(tags, true))
	}

	autoPrint := ""
	if opts.AutoPrint {
		autoPrint = "<script>window.onload = function () { window.print(); };</script>"
	}
	page := map[string]string{
		"Vouchers":  b.String(),
		"Company":   html.EscapeString(company),
		"AutoPrint": autoPrint,
	}
	return fasttemplate.New(layout, "{", "}").ExecuteFuncString(keepUnknown(page, false)), nil
}

// keepUnknown substitutes known tags and writes anything else back verbatim
// so CSS and script braces survive
func keepUnknown(values map[string]string, escape bool) fasttemplate.TagFunc {
	return func(w io.Writer, tag string) (int, error) {
		v, ok := values[tag]
		if !ok {
			return io.WriteString(w, "{"+tag+"}")
		}
		if escape {
			v = html.EscapeString(v)
		}
		return io.WriteString(w, v)
	}
}

// Formatter renders money, dates and sizes for the configured locale
type Formatter struct {
	printer  *message.Printer
	currency string
	tag      language.Tag
}

func (s *PrintService) formatter(ctx context.Context) *Formatter {
	return NewFormatter(
		s.settings.String(ctx, models.SettingLocale, "id-ID"),
		s.settings.String(ctx, models.SettingCurrencyPrefix, "Rp"),
	)
}

// NewFormatter creates a formatter for a BCP 47 locale such as "id-ID"
func NewFormatter(locale, currency string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Indonesian
	}
	return &Formatter{printer: message.NewPrinter(tag), currency: currency, tag: tag}
}

// Number groups digits the local way, e.g. 10.000 for Indonesian
func (f *Formatter) Number(v float64) string {
	return f.printer.Sprintf("%d", int64(math.Round(v)))
}

// Money prefixes Number with the currency
func (f *Formatter) Money(v float64) string {
	if f.currency == "" {
		return f.Number(v)
	}
	return f.currency + " " + f.Number(v)
}

// Date formats t as dd/mm/yyyy, or mm/dd/yyyy for American English
func (f *Formatter) Date(t time.Time) string {
	if f.tag == language.AmericanEnglish {
		return t.Format("01/02/2006")
	}
	return t.Format("02/01/2006")
}

// Quota renders a byte quota, "Unlimited" when zero
func Quota(bytes int64) string {
	if bytes <= 0 {
		return "Unlimited"
	}
	return humanize.IBytes(uint64(bytes))
}

func (f *Formatter) voucherTags(v *models.Voucher, n int) map[string]string {
	tags := map[string]string{
		"Code":      v.Code,
		"Password":  v.Password,
		"HargaJual": f.Number(v.PriceSell),
		"Price":     f.Money(v.PriceSell),
		"Vendor":    fallbackVendor,
		"Date":      f.Date(v.CreatedAt),
		"Number":    strconv.Itoa(n),
		"Quota":     Quota(0),
	}
	if v.Vendor != nil && v.Vendor.Name != "" {
		tags["Vendor"] = v.Vendor.Name
	}
	if p := v.Profile; p != nil {
		tags["Profile"] = p.Name
		tags["Validity"] = p.Validity
		tags["Quota"] = Quota(p.QuotaBytes)
	}
	return tags
}
