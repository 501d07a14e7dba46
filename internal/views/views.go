// Package views は HTML テンプレートを提供します。
package views

import (
	"embed"
	"html/template"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var files embed.FS

// Templates は組み込みテンプレートを解析して返します。
func Templates() *template.Template {
	return template.Must(template.New("").ParseFS(files, "templates/*.html"))
}

// Load はエンジンにテンプレートを登録します。
func Load(engine *gin.Engine) {
	engine.SetHTMLTemplate(Templates())
}
