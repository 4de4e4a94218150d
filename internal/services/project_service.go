package services

import (
	"fmt"

	"github.com/beiliao-mobile/BLIAP/internal/database"
	"github.com/beiliao-mobile/BLIAP/internal/models"

	"gorm.io/gorm"
)

// ProjectService provides project management operations
type ProjectService struct {
	db *gorm.DB
}

// NewProjectService creates a new project service
func NewProjectService() *ProjectService {
	return &ProjectService{
		db: database.GetDB(),
	}
}

// GetProjectByID gets project by ID
func (s *ProjectService) GetProjectByID(projectID string) (*models.Project, error) {
	var project models.Project
	result := s.db.Where("project_id = ? AND is_active = ?", projectID, true).First(&project)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("project not found")
		}
		return nil, result.Error
	}
	return &project, nil
}

// ValidateProject validates project ID and API key
func (s *ProjectService) ValidateProject(projectID, apiKey string) bool {
	project, err := s.GetProjectByID(projectID)
	if err != nil {
		return false
	}
	return project.APIKey == apiKey && project.IsActive
}

// GetAllProjects gets all active projects
func (s *ProjectService) GetAllProjects() ([]*models.Project, error) {
	var projects []*models.Project
	result := s.db.Where("is_active = ?", true).Find(&projects)
	if result.Error != nil {
		return nil, result.Error
	}
	return projects, nil
}

// CreateProject creates a new project
func (s *ProjectService) CreateProject(project *models.Project) error {
	// Check if project ID already exists
	var existingProject models.Project
	result := s.db.Where("project_id = ?", project.ProjectID).First(&existingProject)
	if result.Error == nil {
		return fmt.Errorf("project with ID %s already exists", project.ProjectID)
	}

	// Check if API key already exists
	result = s.db.Where("api_key = ?", project.APIKey).First(&existingProject)
	if result.Error == nil {
		return fmt.Errorf("project with this API key already exists")
	}

	if err := s.db.Create(project).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// UpdateProject updates project fields
func (s *ProjectService) UpdateProject(projectID string, updates map[string]interface{}) error {
	result := s.db.Model(&models.Project{}).
		Where("project_id = ?", projectID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("project not found")
	}

	return nil
}
