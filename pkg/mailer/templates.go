package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var invitationTmpl = template.Must(template.New("invitation").Parse(`<p>您好，</p>
<p>{{.InviterName}} 邀请您加入 <strong>{{.TenantName}}</strong> 的笔记空间。</p>
<p><a href="{{.Link}}">点击这里接受邀请并创建账号</a></p>
<p>该链接将于 {{.ExpiresAt}} 失效。</p>`))

var upgradeRequestTmpl = template.Must(template.New("upgrade_request").Parse(`<p>管理员您好，</p>
<p>{{.RequesterEmail}} 申请将租户 <strong>{{.TenantName}}</strong> 升级到 Pro 套餐。</p>
<p>请登录后在升级申请列表中审批。</p>`))

// InvitationData 邀请邮件参数
type InvitationData struct {
	InviterName string
	TenantName  string
	Link        string
	ExpiresAt   time.Time
}

// UpgradeRequestData 升级申请邮件参数
type UpgradeRequestData struct {
	RequesterEmail string
	TenantName     string
}

// InvitationEmail 渲染邀请邮件，返回主题和正文
func InvitationEmail(data InvitationData) (string, string, error) {
	view := struct {
		InviterName string
		TenantName  string
		Link        string
		ExpiresAt   string
	}{data.InviterName, data.TenantName, data.Link, data.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC")}

	var body bytes.Buffer
	if err := invitationTmpl.Execute(&body, view); err != nil {
		return "", "", fmt.Errorf("渲染邀请邮件失败: %v", err)
	}
	return fmt.Sprintf("邀请加入 %s", data.TenantName), body.String(), nil
}

// UpgradeRequestEmail 渲染升级申请通知邮件
func UpgradeRequestEmail(data UpgradeRequestData) (string, string, error) {
	var body bytes.Buffer
	if err := upgradeRequestTmpl.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("渲染升级申请邮件失败: %v", err)
	}
	return fmt.Sprintf("%s 的升级申请", data.TenantName), body.String(), nil
}
