package api

// Пути HTTP API
const (
	PathRegister = "/api/auth/register"
	PathLogin    = "/api/auth/login"
	PathUsers    = "/api/users"
	PathMe       = "/api/me"
	PathHealth   = "/healthz"
	PathMetrics  = "/metrics"
	PathWS       = "/ws"
)

// STOMP destinations чата
const (
	// AppPrefix префикс destinations, обрабатываемых сервером
	AppPrefix = "/app"

	DestinationAddUser            = AppPrefix + "/chat.addUser"
	DestinationSendMessage        = AppPrefix + "/chat.sendMessage"
	DestinationSendPrivateMessage = AppPrefix + "/chat.sendPrivateMessage"

	// TopicPublic общий канал, который получают все подписчики
	TopicPublic = "/topic/public"

	// QueuePrivate очередь личных сообщений пользователя
	QueuePrivate = "/queue/private"
	// QueueErrors очередь ошибок обработки сообщений текущей сессии
	QueueErrors = "/queue/errors"

	// UserQueuePrivate подписка клиента на свои личные сообщения
	UserQueuePrivate = "/user" + QueuePrivate
	// UserQueueErrors подписка клиента на ошибки своей сессии
	UserQueueErrors = "/user" + QueueErrors
)

// STOMP заголовки, которые не определены в go-stomp
const (
	HeaderAuthorization      = "Authorization"
	HeaderAuthorizationLower = "authorization"
	HeaderUserName           = "user-name"
)
