package engine

import (
	"github.com/labstack/echo/v4"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Messages holds the localized API messages and labels. English is the
// default, Simplified Chinese is picked from Accept-Language or ?lang=.
type Messages struct {
	bundle *i18n.Bundle
}

var englishMessages = []*i18n.Message{
	{ID: "import.empty", Other: "Please enter feedback content"},
	{ID: "import.noFile", Other: "Please choose a file"},
	{ID: "import.noImage", Other: "Please choose an image"},
	{ID: "import.unsupported", Other: "Unsupported file type {{.Ext}}"},
	{ID: "import.unreadable", Other: "Unable to read the uploaded file"},
	{ID: "import.ocrDisabled", Other: "Image recognition is not configured"},
	{ID: "import.ocrFailed", Other: "No text could be recognized in the image"},
	{ID: "import.done", Other: "Imported {{.Total}} feedbacks"},
	{ID: "problem.notFound", Other: "Problem not found"},
	{ID: "problem.invalidID", Other: "Invalid problem id"},
	{ID: "problem.resolved", Other: "Problem marked as resolved"},
	{ID: "problem.statusUpdated", Other: "Problem status updated"},
	{ID: "problem.statusMissing", Other: "Please provide the new status"},
	{ID: "problem.statusInvalid", Other: "Invalid status value"},
	{ID: "search.empty", Other: "Empty search term"},
	{ID: "batch.invalid", Other: "Invalid batch id"},
	{ID: "server.error", Other: "Internal server error"},
	{ID: "type.technical", Other: "Technical issue"},
	{ID: "type.service", Other: "Service attitude"},
	{ID: "type.price", Other: "Price objection"},
	{ID: "type.feature", Other: "Feature request"},
	{ID: "type.other", Other: "Other"},
	{ID: "severity.high", Other: "High"},
	{ID: "severity.medium", Other: "Medium"},
	{ID: "severity.low", Other: "Low"},
	{ID: "report.overview", Other: "<p>{{.Total}} feedbacks were received between {{.Start}} and {{.End}}.</p>"},
	{ID: "report.empty", Other: "<p>No feedback was received between {{.Start}} and {{.End}}.</p>"},
	{ID: "report.type", Other: "<p><strong>{{.Label}}</strong> accounts for {{.Percent}}% of feedback.</p>"},
	{ID: "report.top", Other: "<p>The most reported problem is <strong>{{.Summary}}</strong> with {{.Count}} reports.</p>"},
}

var chineseMessages = []*i18n.Message{
	{ID: "import.empty", Other: "请输入反馈内容"},
	{ID: "import.noFile", Other: "请选择文件"},
	{ID: "import.noImage", Other: "请选择图片"},
	{ID: "import.unsupported", Other: "不支持的文件类型 {{.Ext}}"},
	{ID: "import.unreadable", Other: "无法读取上传的文件"},
	{ID: "import.ocrDisabled", Other: "未配置图片识别"},
	{ID: "import.ocrFailed", Other: "未能从图片中识别出文字"},
	{ID: "import.done", Other: "成功导入 {{.Total}} 条反馈"},
	{ID: "problem.notFound", Other: "问题不存在"},
	{ID: "problem.invalidID", Other: "无效的问题编号"},
	{ID: "problem.resolved", Other: "问题已标记为已解决"},
	{ID: "problem.statusUpdated", Other: "问题状态已更新"},
	{ID: "problem.statusMissing", Other: "请提供新的状态"},
	{ID: "problem.statusInvalid", Other: "无效的状态值"},
	{ID: "search.empty", Other: "搜索词为空"},
	{ID: "batch.invalid", Other: "无效的批次编号"},
	{ID: "server.error", Other: "服务器内部错误"},
	{ID: "type.technical", Other: "技术问题"},
	{ID: "type.service", Other: "服务态度"},
	{ID: "type.price", Other: "价格异议"},
	{ID: "type.feature", Other: "功能建议"},
	{ID: "type.other", Other: "其他"},
	{ID: "severity.high", Other: "高"},
	{ID: "severity.medium", Other: "中"},
	{ID: "severity.low", Other: "低"},
	{ID: "report.overview", Other: "<p>{{.Start}} 至 {{.End}} 共收到 {{.Total}} 条客户反馈。</p>"},
	{ID: "report.empty", Other: "<p>{{.Start}} 至 {{.End}} 没有收到客户反馈。</p>"},
	{ID: "report.type", Other: "<p><strong>{{.Label}}</strong>占比 {{.Percent}}%。</p>"},
	{ID: "report.top", Other: "<p>反馈最多的问题是<strong>{{.Summary}}</strong>，共 {{.Count}} 次。</p>"},
}

// NewMessages builds the message bundle
func NewMessages() *Messages {
	bundle := i18n.NewBundle(language.English)
	bundle.MustAddMessages(language.English, englishMessages...)
	bundle.MustAddMessages(language.SimplifiedChinese, chineseMessages...)
	return &Messages{bundle: bundle}
}

// Localizer picks the language for a request
func (m *Messages) Localizer(context echo.Context) *i18n.Localizer {
	return i18n.NewLocalizer(m.bundle, context.QueryParam("lang"), context.Request().Header.Get("Accept-Language"))
}

// DefaultLocalizer is used outside of requests, by scheduled jobs
func (m *Messages) DefaultLocalizer() *i18n.Localizer {
	return i18n.NewLocalizer(m.bundle)
}

// msg localizes id, returning the id itself when it is unknown
func msg(localizer *i18n.Localizer, id string, data map[string]any) string {
	text, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		return id
	}
	return text
}

func typeLabel(localizer *i18n.Localizer, code string) string {
	return msg(localizer, "type."+code, nil)
}

func severityLabel(localizer *i18n.Localizer, code string) string {
	return msg(localizer, "severity."+code, nil)
}
