package domain

import "time"

// ServiceType определяет тип коммунальной услуги.
type ServiceType string

const (
	ServiceElectricity ServiceType = "electricity"
	ServiceWater       ServiceType = "water"
	ServiceInternet    ServiceType = "internet"
)

// Valid проверяет, что тип услуги известен системе.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceElectricity, ServiceWater, ServiceInternet:
		return true
	}
	return false
}

// ReportStatus определяет состояние инцидента.
type ReportStatus string

const (
	StatusOutage   ReportStatus = "outage"
	StatusRestored ReportStatus = "restored"
)

// Valid проверяет, что статус известен системе.
func (s ReportStatus) Valid() bool {
	return s == StatusOutage || s == StatusRestored
}

// OutageReport описывает сообщение жителя об отключении или восстановлении услуги.
type OutageReport struct {
	ID           string
	UserID       string
	UserName     string
	UserEmail    string
	City         string
	Neighborhood string
	ServiceType  ServiceType
	Status       ReportStatus
	Description  string
	Timestamp    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReportPatch содержит поля отчёта, которые владелец может исправить.
type ReportPatch struct {
	Status      *ReportStatus
	Description *string
}

// ReportFilter описывает фильтр ленты отчётов. Пустое поле означает «любое значение».
type ReportFilter struct {
	City        string
	ServiceType ServiceType
	Status      ReportStatus
}

// Matches сообщает, попадает ли отчёт под фильтр.
func (f ReportFilter) Matches(r OutageReport) bool {
	if f.City != "" && f.City != r.City {
		return false
	}
	if f.ServiceType != "" && f.ServiceType != r.ServiceType {
		return false
	}
	if f.Status != "" && f.Status != r.Status {
		return false
	}
	return true
}

// NotificationPreferences хранит подписки пользователя по типам услуг.
type NotificationPreferences struct {
	Electricity bool `json:"electricity"`
	Water       bool `json:"water"`
	Internet    bool `json:"internet"`
	AllUpdates  bool `json:"allUpdates"`
}

// For возвращает подписку на конкретный тип услуги.
func (p NotificationPreferences) For(s ServiceType) bool {
	switch s {
	case ServiceElectricity:
		return p.Electricity
	case ServiceWater:
		return p.Water
	case ServiceInternet:
		return p.Internet
	}
	return false
}

// UserProfile описывает профиль жителя: локацию, подписки и push-токен устройства.
type UserProfile struct {
	ID            string
	Email         string
	DisplayName   string
	City          string
	Neighborhoods []string
	Preferences   NotificationPreferences
	PushToken     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProfilePatch содержит изменяемые пользователем поля профиля.
type ProfilePatch struct {
	DisplayName   *string
	City          *string
	Neighborhoods *[]string
	Preferences   *NotificationPreferences
}

// Recipient — адресат push-уведомления.
type Recipient struct {
	UserID    string
	PushToken string
}

// NotifyJob — задача на рассылку уведомлений по новому отчёту.
type NotifyJob struct {
	Report OutageReport `json:"report"`
}

// ReportSnapshot — полный результат фильтра, доставляемый подписчику.
// Err выставляется один раз при терминальном сбое подписки.
type ReportSnapshot struct {
	Reports []OutageReport
	Err     error
}
