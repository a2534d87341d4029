package applog

const (
	CategoryAuth     = "auth"
	CategoryQrCode   = "qrcode"
	CategoryTemplate = "template"
	CategoryData     = "data"
	CategoryAdmin    = "admin"
	CategorySystem   = "system"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

const (
	EventRegister         = "auth.register"
	EventLogin            = "auth.login"
	EventLoginFailed      = "auth.login_failed"
	EventLogout           = "auth.logout"
	EventTokenRefreshed   = "auth.token_refreshed"
	EventRefreshFailed    = "auth.refresh_failed"
	EventOAuthLogin       = "auth.oauth_login"
	EventOAuthLinked      = "auth.oauth_linked"
	EventOAuthFailed      = "auth.oauth_failed"
	EventAccountUnlinked  = "auth.account_unlinked"
	EventProfileUpdated   = "auth.profile_updated"
	EventPasswordChanged  = "auth.password_changed"
	EventAccountDeleted   = "auth.account_deleted"
	EventSessionRevoked   = "auth.session_revoked"
	EventQrCreated        = "qrcode.created"
	EventQrUpdated        = "qrcode.updated"
	EventQrDeleted        = "qrcode.deleted"
	EventQrBulkDeleted    = "qrcode.bulk_deleted"
	EventQrDuplicated     = "qrcode.duplicated"
	EventQrRenderFailed   = "qrcode.render_failed"
	EventTemplateCreated  = "template.created"
	EventTemplateUpdated  = "template.updated"
	EventTemplateDeleted  = "template.deleted"
	EventDataExported     = "data.exported"
	EventDataImported     = "data.imported"
	EventDataImportFailed = "data.import_failed"
	EventLogsCleanup      = "admin.logs_cleanup"
	EventSessionsCleanup  = "admin.sessions_cleanup"
	EventAccessDenied     = "admin.access_denied"
	EventStartup          = "system.startup"
	EventSystemError      = "system.error"
)

type eventInfo struct {
	Category string
	Level    string
}

var catalog = map[string]eventInfo{
	EventRegister:         {CategoryAuth, LevelInfo},
	EventLogin:            {CategoryAuth, LevelInfo},
	EventLoginFailed:      {CategoryAuth, LevelWarn},
	EventLogout:           {CategoryAuth, LevelInfo},
	EventTokenRefreshed:   {CategoryAuth, LevelDebug},
	EventRefreshFailed:    {CategoryAuth, LevelWarn},
	EventOAuthLogin:       {CategoryAuth, LevelInfo},
	EventOAuthLinked:      {CategoryAuth, LevelInfo},
	EventOAuthFailed:      {CategoryAuth, LevelWarn},
	EventAccountUnlinked:  {CategoryAuth, LevelInfo},
	EventProfileUpdated:   {CategoryAuth, LevelInfo},
	EventPasswordChanged:  {CategoryAuth, LevelInfo},
	EventAccountDeleted:   {CategoryAuth, LevelWarn},
	EventSessionRevoked:   {CategoryAuth, LevelInfo},
	EventQrCreated:        {CategoryQrCode, LevelInfo},
	EventQrUpdated:        {CategoryQrCode, LevelInfo},
	EventQrDeleted:        {CategoryQrCode, LevelInfo},
	EventQrBulkDeleted:    {CategoryQrCode, LevelInfo},
	EventQrDuplicated:     {CategoryQrCode, LevelInfo},
	EventQrRenderFailed:   {CategoryQrCode, LevelError},
	EventTemplateCreated:  {CategoryTemplate, LevelInfo},
	EventTemplateUpdated:  {CategoryTemplate, LevelInfo},
	EventTemplateDeleted:  {CategoryTemplate, LevelInfo},
	EventDataExported:     {CategoryData, LevelInfo},
	EventDataImported:     {CategoryData, LevelInfo},
	EventDataImportFailed: {CategoryData, LevelWarn},
	EventLogsCleanup:      {CategoryAdmin, LevelWarn},
	EventSessionsCleanup:  {CategoryAdmin, LevelWarn},
	EventAccessDenied:     {CategoryAdmin, LevelWarn},
	EventStartup:          {CategorySystem, LevelInfo},
	EventSystemError:      {CategorySystem, LevelError},
}

// Classify returns the category and level for event. Unknown events are system/info.
func Classify(event string) (category, level string) {
	if info, ok := catalog[event]; ok {
		return info.Category, info.Level
	}
	return CategorySystem, LevelInfo
}

func Levels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

func Categories() []string {
	return []string{CategoryAuth, CategoryQrCode, CategoryTemplate, CategoryData, CategoryAdmin, CategorySystem}
}
