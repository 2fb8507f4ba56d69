package handlers

import (
	"yardstick/internal/services"
	"yardstick/pkg/pagination"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
)

// NoteHandler 笔记处理器
type NoteHandler struct {
	noteService *services.NoteService
}

// NewNoteHandler 创建笔记处理器
func NewNoteHandler(noteService *services.NoteService) *NoteHandler {
	return &NoteHandler{noteService: noteService}
}

// List 笔记列表
// @Summary 获取本租户笔记列表
// @Tags 笔记
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.PageResponse{data=[]models.Note}
// @Router /api/v1/notes [get]
func (h *NoteHandler) List(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	params := pagination.ParsePageParams(c)
	notes, total, err := h.noteService.List(c.Request.Context(), principal, params)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithPage(c, notes, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Get 笔记详情
func (h *NoteHandler) Get(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	note, err := h.noteService.Get(c.Request.Context(), principal, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, note)
}

// Create 创建笔记
// @Summary 创建笔记
// @Description Free套餐租户最多3条笔记
// @Tags 笔记
// @Accept json
// @Produce json
// @Param request body services.CreateNoteRequest true "笔记内容"
// @Success 201 {object} response.Response{data=models.Note}
// @Router /api/v1/notes [post]
func (h *NoteHandler) Create(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var req services.CreateNoteRequest
	if !bindJSON(c, &req) {
		return
	}

	note, err := h.noteService.Create(c.Request.Context(), principal, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, note)
}

// Update 更新笔记
func (h *NoteHandler) Update(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateNoteRequest
	if !bindJSON(c, &req) {
		return
	}

	note, err := h.noteService.Update(c.Request.Context(), principal, id, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, note)
}

// Delete 删除笔记
func (h *NoteHandler) Delete(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.noteService.Delete(c.Request.Context(), principal, id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}
