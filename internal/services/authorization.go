package services

import (
	"errors"

	"fructosahel/backend/internal/models"

	"github.com/gofrs/uuid"
)

var ErrTaskForbidden = errors.New("not allowed to change this task")

// Actor is the authenticated caller a task operation runs on behalf of.
type Actor struct {
	ID   uuid.UUID
	Role models.UserRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// CanView reports whether the task is visible to the actor: its creator,
// its assignee, or an admin.
func (a Actor) CanView(task models.Task) bool {
	if a.IsAdmin() || task.CreatedBy == a.ID {
		return true
	}
	return task.AssignedTo != nil && *task.AssignedTo == a.ID
}

// CanManage covers deleting and reassigning, which stay with the creator
// and admins.
func (a Actor) CanManage(task models.Task) bool {
	return a.IsAdmin() || task.CreatedBy == a.ID
}

// CanNotify reports whether the actor may push notifications to userID.
func (a Actor) CanNotify(userID uuid.UUID) bool {
	return a.IsAdmin() || userID == a.ID
}
