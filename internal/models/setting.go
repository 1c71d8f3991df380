package models

// Setting value types
const (
	SettingTypeInt    = "int"
	SettingTypeBool   = "bool"
	SettingTypeString = "string"
)

// Well-known setting names. Absent rows fall back to the defaults documented
// in services.DefaultGuardSettings; a missing row never fails a request.
const (
	SettingMaxLoginAttempts        = "max_login_attempts"
	SettingLockoutDuration         = "lockout_duration"
	SettingResetTime               = "reset_time"
	SettingCaptchaAfter            = "enable_captcha_after"
	SettingEnableIPDenylist        = "enable_ip_denylist"
	SettingEnableUsernameDenylist  = "enable_username_denylist"
	SettingEnableIPSafelist        = "enable_ip_safelist"
	SettingEnableUsernameSafelist  = "enable_username_safelist"
	SettingNotifyRemainingAttempts = "notify_remaining_attempts"
)

// SecuritySetting is a typed key/value configuration row.
type SecuritySetting struct {
	Name  string `db:"name"`
	Value string `db:"value"`
	Type  string `db:"type"`
}
