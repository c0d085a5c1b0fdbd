// Package api 嵌入 OpenAPI 描述文件
package api

import "embed"

// OpenAPIFS API 文档（openapi/taskhub.yaml）
//
//go:embed openapi/*.yaml
var OpenAPIFS embed.FS
