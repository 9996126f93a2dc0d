package patterns

import (
	"regexp"
	"strings"
)

// utilityPatterns 工具方法命名启发式。
// 命中这些形态的方法即使调用了敏感 API 也不视为保护逻辑
var utilityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`tohex`),
	regexp.MustCompile(`hexto`),
	regexp.MustCompile(`byte.*array`),
	regexp.MustCompile(`encode`),
	regexp.MustCompile(`decode`),
	regexp.MustCompile(`format.*string`),
	regexp.MustCompile(`serialize`),
	regexp.MustCompile(`deserialize`),
	regexp.MustCompile(`parse.*json`),
	regexp.MustCompile(`.*_utils$`),
	regexp.MustCompile(`^get[a-z]*$`),
	regexp.MustCompile(`init.*array`),
	regexp.MustCompile(`fill.*array`),
}

// utilityFilter 审计 matcher 共用的工具方法过滤器
type utilityFilter struct {
	ignoreList []string
}

func newUtilityFilter(ignoreList []string) *utilityFilter {
	return &utilityFilter{ignoreList: ignoreList}
}

// isUtility 方法名是否属于工具函数（命名启发式或显式忽略列表）
func (f *utilityFilter) isUtility(methodName string) bool {
	lower := strings.ToLower(methodName)

	for _, re := range utilityPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	for _, ignored := range f.ignoreList {
		if strings.Contains(lower, strings.ToLower(ignored)) {
			return true
		}
	}
	return false
}
