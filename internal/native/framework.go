package native

import "strings"

// frameworkLibs 跨平台框架的特征库文件。
// 顺序固定以保证识别结果的稳定输出
var frameworkLibs = []struct {
	Name string
	Libs []string
}{
	{"Flutter", []string{"libflutter.so", "libapp.so"}},
	{"ReactNative", []string{"libreactnativejni.so", "libhermes.so"}},
	{"Unity", []string{"libunity.so", "libmain.so", "libil2cpp.so"}},
	{"Xamarin", []string{"libmonosgen-2.0.so", "libmonodroid.so"}},
	{"Cordova", []string{"libchord.so"}},
}

// IdentifyFrameworks 根据 APK 内 .so 文件名识别底层框架，
// 用于后续 SSL pinning 证据的框架级归因
func IdentifyFrameworks(libNames []string) []string {
	seen := make(map[string]bool, len(libNames))
	for _, lib := range libNames {
		seen[strings.ToLower(lib)] = true
	}

	var detected []string
	for _, fw := range frameworkLibs {
		for _, lib := range fw.Libs {
			if seen[strings.ToLower(lib)] {
				detected = append(detected, fw.Name)
				break
			}
		}
	}
	return detected
}
