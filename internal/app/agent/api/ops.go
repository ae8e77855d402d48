package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) getStatusOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-sync-status",
		Method:      http.MethodGet,
		Path:        "/admin/sync/status",
		Summary:     "Получить статус синхронизации",
		Description: "Возвращает состояние зеркала, очереди и статистику синхронизации",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) triggerSyncOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-sync-trigger",
		Method:      http.MethodPost,
		Path:        "/admin/sync/trigger",
		Summary:     "Запустить синхронизацию",
		Description: "Запускает полный цикл push+pull и возвращает итог",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getConflictsOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-sync-conflicts",
		Method:      http.MethodGet,
		Path:        "/admin/sync/conflicts",
		Summary:     "Получить конфликты синхронизации",
		Description: "Возвращает список неразрешенных конфликтов",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) resolveConflictOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-sync-resolve-conflict",
		Method:      http.MethodPost,
		Path:        "/admin/sync/conflicts/{id}/resolve",
		Summary:     "Разрешить конфликт синхронизации",
		Description: "Разрешает указанный конфликт выбором клиентской или серверной версии",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getQueueOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-queue-list",
		Method:      http.MethodGet,
		Path:        "/admin/queue",
		Summary:     "Получить очередь отложенных запросов",
		Description: "Возвращает все элементы очереди и счетчики по статусам",
		Tags:        []string{"queue"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) retryQueueItemOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-queue-retry",
		Method:      http.MethodPost,
		Path:        "/admin/queue/{id}/retry",
		Summary:     "Повторить неудавшийся запрос",
		Description: "Возвращает окончательно неудавшийся элемент в очередь с новым бюджетом попыток",
		Tags:        []string{"queue"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getHealthOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-health",
		Method:      http.MethodGet,
		Path:        "/admin/health",
		Summary:     "Проверка состояния агента",
		Description: "Возвращает доступность и качество соединения с сервером",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}
