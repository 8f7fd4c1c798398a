package sitehttp

import "fmt"

// User-facing copy. The site is Arabic-only.
const (
	downloadStartingTitle = "جاري التحميل..."
	downloadStartingMsg   = "سيبدأ تحميل التطبيق الآن"

	downloadReadyTitle = "تم بدء التحميل! 🎉"
	downloadReadyMsg   = "يتم الآن تحميل تطبيق Penthu"

	downloadMissingTitle = "غير متوفر حالياً"
	downloadMissingMsg   = "ملف التطبيق غير متوفر للتحميل الآن. يرجى المحاولة لاحقاً."

	genericStoreLabel = "المتجر"
)

var storeLabels = map[string]string{
	"appstore":  "App Store",
	"playstore": "Google Play",
}

// storeLabel maps the path value to a display name; anything unknown gets
// the generic label and is never echoed back.
func storeLabel(name string) string {
	if l, ok := storeLabels[name]; ok {
		return l
	}
	return genericStoreLabel
}

func storeComingSoon(label string) (title, msg string) {
	return fmt.Sprintf("%s - قريباً! 🚀", label),
		fmt.Sprintf("التطبيق غير متوفر على %s حالياً. يمكنك التحميل المباشر للـ APK.", label)
}
