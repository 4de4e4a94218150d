package api

import (
	"net/http"

	"github.com/beiliao-mobile/BLIAP/internal/middleware"
	"github.com/beiliao-mobile/BLIAP/internal/models"
	"github.com/beiliao-mobile/BLIAP/internal/response"
	"github.com/beiliao-mobile/BLIAP/internal/services"
	"github.com/beiliao-mobile/BLIAP/internal/verify"

	"github.com/gin-gonic/gin"
)

var queueManager *verify.Manager

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, manager *verify.Manager) {
	// Initialize project manager
	middleware.InitProjectManager()
	queueManager = manager

	// API route group
	api := r.Group("/api")
	{
		// Verify queue routes (require project authentication)
		verifyGroup := api.Group("/verify")
		verifyGroup.Use(middleware.ProjectAuthMiddleware())
		{
			verifyGroup.POST("/start", StartVerifySession)
			verifyGroup.POST("/receipt", RefreshReceipt)
			verifyGroup.POST("/transactions", AppendTransaction)
			verifyGroup.POST("/cancel", CancelVerifySession)
			verifyGroup.POST("/reconcile", ReconcilePlatformList)
			verifyGroup.GET("/status", GetQueueStatus)
		}

		// Project management routes (for admin use)
		admin := api.Group("/admin")
		{
			admin.GET("/projects", GetProjects)
			admin.POST("/projects", CreateProject)
			admin.PUT("/projects/:id", UpdateProject)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "receipt-verify-service",
		})
	})
}

// GetProjects gets all projects
func GetProjects(c *gin.Context) {
	projectService := services.NewProjectService()
	projects, err := projectService.GetAllProjects()
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to get projects")
		return
	}

	response.SuccessJSON(c, projects)
}

// CreateProjectRequest represents create project request
type CreateProjectRequest struct {
	ProjectID   string `json:"project_id" binding:"required"`
	ProjectName string `json:"project_name" binding:"required"`
	APIKey      string `json:"api_key" binding:"required"`
	Description string `json:"description"`
	BundleID    string `json:"bundle_id"`    // iOS bundle ID
	PackageName string `json:"package_name"` // Android package name

	WebhookCallbackURL string `json:"webhook_callback_url"`
	WebhookSecret      string `json:"webhook_secret"`
}

// CreateProject creates a new project
func CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	project := &models.Project{
		ProjectID:          req.ProjectID,
		ProjectName:        req.ProjectName,
		APIKey:             req.APIKey,
		Description:        req.Description,
		BundleID:           req.BundleID,
		PackageName:        req.PackageName,
		WebhookCallbackURL: req.WebhookCallbackURL,
		WebhookSecret:      req.WebhookSecret,
		IsActive:           true,
	}

	projectService := services.NewProjectService()
	if err := projectService.CreateProject(project); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to create project: "+err.Error())
		return
	}

	c.JSON(http.StatusCreated, response.Success(project))
}

// UpdateProjectRequest represents update project request
type UpdateProjectRequest struct {
	ProjectName string `json:"project_name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
	BundleID    string `json:"bundle_id"`
	PackageName string `json:"package_name"`

	WebhookCallbackURL string `json:"webhook_callback_url"`
	WebhookSecret      string `json:"webhook_secret"`
}

// UpdateProject updates an existing project
func UpdateProject(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "Project ID is required")
		return
	}

	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	// Build update map
	updates := make(map[string]interface{})
	if req.ProjectName != "" {
		updates["project_name"] = req.ProjectName
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.BundleID != "" {
		updates["bundle_id"] = req.BundleID
	}
	if req.PackageName != "" {
		updates["package_name"] = req.PackageName
	}
	if req.WebhookCallbackURL != "" {
		updates["webhook_callback_url"] = req.WebhookCallbackURL
	}
	if req.WebhookSecret != "" {
		updates["webhook_secret"] = req.WebhookSecret
	}

	projectService := services.NewProjectService()
	if err := projectService.UpdateProject(projectID, updates); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to update project: "+err.Error())
		return
	}

	response.SuccessJSON(c, nil)
}
