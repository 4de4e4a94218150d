package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/models"
	"github.com/beiliao-mobile/BLIAP/internal/response"
	"github.com/beiliao-mobile/BLIAP/internal/verify"
	"github.com/beiliao-mobile/BLIAP/pkg/logging"

	"github.com/gin-gonic/gin"
)

// StartSessionRequest 开启验证会话请求
type StartSessionRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	ReceiptData string `json:"receipt_data"` // base64，可选，提供则先刷新收据
}

// StartVerifySession starts (or resumes) the user's verify queue: pending
// records are rehydrated from storage and verification resumes where the
// previous session left off.
func StartVerifySession(c *gin.Context) {
	projectID := c.GetString("project_id")

	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	queue, err := queueManager.Start(projectID, req.UserID)
	if err != nil {
		logging.Errorf("failed to start verify session - project: %s, user: %s, error: %v",
			projectID, req.UserID, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to start verify session")
		return
	}

	if req.ReceiptData != "" {
		receipt, err := base64.StdEncoding.DecodeString(req.ReceiptData)
		if err != nil {
			response.ErrorJSON(c, http.StatusBadRequest, "Invalid receipt_data: "+err.Error())
			return
		}
		queue.RefreshReceipt(receipt)
	}

	queue.StartIfNeeded()

	response.SuccessJSON(c, gin.H{
		"user_id":       req.UserID,
		"pending_count": len(queue.PendingSnapshot()),
	})
}

// RefreshReceiptRequest 刷新收据请求
type RefreshReceiptRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	ReceiptData string `json:"receipt_data" binding:"required"` // base64
}

// RefreshReceipt replaces the queue's receipt bytes. Does not trigger
// verification by itself.
func RefreshReceipt(c *gin.Context) {
	projectID := c.GetString("project_id")

	var req RefreshReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	queue, ok := queueManager.Get(projectID, req.UserID)
	if !ok {
		response.ErrorJSON(c, http.StatusConflict, "Verify session not started")
		return
	}

	receipt, err := base64.StdEncoding.DecodeString(req.ReceiptData)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid receipt_data: "+err.Error())
		return
	}

	queue.RefreshReceipt(receipt)
	response.SuccessJSON(c, nil)
}

// AppendTransactionRequest 追加待验证交易请求
type AppendTransactionRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"`
	ProductID     string `json:"product_id" binding:"required"`
	QueuedAt      int64  `json:"queued_at"` // Unix 秒，缺省为服务端当前时间
}

// AppendTransaction appends a completed platform transaction to the user's
// verify queue. The record is persisted before any verification starts.
func AppendTransaction(c *gin.Context) {
	projectID := c.GetString("project_id")

	var req AppendTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	queue, ok := queueManager.Get(projectID, req.UserID)
	if !ok {
		response.ErrorJSON(c, http.StatusConflict, "Verify session not started")
		return
	}

	queuedAt := time.Now()
	if req.QueuedAt > 0 {
		queuedAt = time.Unix(req.QueuedAt, 0)
	}

	record, err := models.NewTransactionRecord(projectID, req.UserID, req.ProductID, req.TransactionID, queuedAt)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := queue.Append(record); err != nil {
		if errors.Is(err, verify.ErrReceiptMissing) {
			response.ErrorJSON(c, http.StatusBadRequest, "Receipt data is missing, refresh the receipt first")
			return
		}
		logging.Errorf("failed to append transaction - project: %s, user: %s, transaction: %s, error: %v",
			projectID, req.UserID, req.TransactionID, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to append transaction")
		return
	}

	logging.Infof("transaction appended - project: %s, user: %s, transaction: %s, product: %s",
		projectID, req.UserID, req.TransactionID, req.ProductID)
	response.SuccessJSON(c, gin.H{
		"transaction_id": req.TransactionID,
		"queued_at":      queuedAt.Unix(),
	})
}

// CancelSessionRequest 取消验证会话请求
type CancelSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// CancelVerifySession cancels the user's queue (logout). In-flight work is
// cancelled and the pending list dropped from memory; persisted records
// remain and are rehydrated by the next session.
func CancelVerifySession(c *gin.Context) {
	projectID := c.GetString("project_id")

	var req CancelSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	queueManager.Stop(projectID, req.UserID)
	response.SuccessJSON(c, nil)
}

// ReconcileRequest 对账请求：客户端上报平台侧未完结交易列表
type ReconcileRequest struct {
	UserID                 string   `json:"user_id" binding:"required"`
	PlatformTransactionIDs []string `json:"platform_transaction_ids"`
}

// ReconcilePlatformList flags queued records the platform no longer reports
// in its own unfinished-transaction list. Such records cannot be finished on
// the device; they are marked resolved by the authority and stop being
// verified.
func ReconcilePlatformList(c *gin.Context) {
	projectID := c.GetString("project_id")

	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	queue, ok := queueManager.Get(projectID, req.UserID)
	if !ok {
		response.ErrorJSON(c, http.StatusConflict, "Verify session not started")
		return
	}

	if err := queue.ReconcilePlatformList(req.PlatformTransactionIDs); err != nil {
		logging.Errorf("failed to reconcile platform list - project: %s, user: %s, error: %v",
			projectID, req.UserID, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to reconcile platform list")
		return
	}

	response.SuccessJSON(c, gin.H{
		"user_id":       req.UserID,
		"pending_count": len(queue.PendingSnapshot()),
	})
}

// QueueStatusItem 队列状态里的单条交易
type QueueStatusItem struct {
	TransactionID  string `json:"transaction_id"`
	ProductID      string `json:"product_id"`
	QueuedAt       int64  `json:"queued_at"`
	OrderNo        string `json:"order_no,omitempty"`
	VerifyAttempts uint   `json:"verify_attempts"`
}

// GetQueueStatus reports whether the user's queue is fully cleared plus a
// snapshot of unresolved transactions. Hosts poll this before allowing
// logout to warn about unresolved purchases.
func GetQueueStatus(c *gin.Context) {
	projectID := c.GetString("project_id")

	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "user_id is required")
		return
	}

	queue, ok := queueManager.Get(projectID, userID)
	if !ok {
		response.ErrorJSON(c, http.StatusConflict, "Verify session not started")
		return
	}

	pending := queue.PendingSnapshot()
	items := make([]QueueStatusItem, 0, len(pending))
	for _, record := range pending {
		items = append(items, QueueStatusItem{
			TransactionID:  record.TransactionID,
			ProductID:      record.ProductID,
			QueuedAt:       record.QueuedAt.Unix(),
			OrderNo:        record.OrderNo,
			VerifyAttempts: record.VerifyAttempts,
		})
	}

	response.SuccessJSON(c, gin.H{
		"user_id":       userID,
		"fully_cleared": queue.IsFullyCleared(),
		"pending":       items,
	})
}
