package domain

// Lifecycle stages of a recreational machine.
const (
	StageAssembly     = "Ensamblaje"
	StageVerification = "Comprobacion"
	StageDistribution = "Distribucion"
	StageCollection   = "Recaudacion"
	StageMaintenance  = "Mantenimiento"
)

// Machine statuses within/across stages.
const (
	StatusAssembling   = "Ensamblando"
	StatusVerifying    = "Comprobandose"
	StatusReassembling = "Reensamblandose"
	StatusDistributing = "Distribuyendose"
	StatusOperational  = "Operativa"
	StatusInactive     = "No operativa"
	StatusRetired      = "Retirada"
)

// Component allocation states.
const (
	AllocationAvailable = "Disponible"
	AllocationInUse     = "En uso"
)

// Component types.
const (
	ComponentTypeBoard     = "Placa"
	ComponentTypeEnclosure = "Carcasa"
)

// User types and technician specialties.
const (
	UserTypeTechnician = "Tecnico"
	UserTypeLogistics  = "Logistica"

	SpecialtyAssembler   = "Ensamblador"
	SpecialtyVerifier    = "Comprobador"
	SpecialtyMaintenance = "Mantenimiento"
)

// Notification kinds emitted by lifecycle transitions.
const (
	NotifyNewAssembly     = "Nuevo montaje"
	NotifyVerifyMachine   = "Comprobar maquina recreativa"
	NotifyReassembly      = "Reensamblar maquina recreativa"
	NotifyDistribute      = "Distribuir maquina recreativa"
	NotifyMaintain        = "Dar mantenimiento a maquina recreativa"
	NotifyMachineRepaired = "Maquina recreativa reparada"
	NotifyMachineRetired  = "Maquina recreativa retirada"
)

type Machine struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Stage        string  `json:"stage" enum:"Ensamblaje,Comprobacion,Distribucion,Recaudacion,Mantenimiento"`
	Status       string  `json:"status" enum:"Ensamblando,Comprobandose,Reensamblandose,Distribuyendose,Operativa,No operativa,Retirada"`
	AssemblerID  string  `json:"assembler_id"`
	VerifierID   string  `json:"verifier_id"`
	MaintainerID *string `json:"maintainer_id,omitempty"`
	CommerceID   string  `json:"commerce_id"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Component struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	PlateCode  *string `json:"plate_code,omitempty"`
	Allocation string  `json:"allocation" enum:"Disponible,En uso"`
	MachineID  *string `json:"machine_id,omitempty"`
	HolderID   *string `json:"holder_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// AssemblyRecord and MaintenanceRecord are append-only; together they
// reconstruct which components are mounted on a machine.
type AssemblyRecord struct {
	ID           int64  `json:"id"`
	MachineID    string `json:"machine_id"`
	ComponentID  string `json:"component_id"`
	TechnicianID string `json:"technician_id"`
	Detail       string `json:"detail,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type MaintenanceRecord struct {
	ID           int64  `json:"id"`
	MachineID    string `json:"machine_id"`
	ComponentID  string `json:"component_id"`
	TechnicianID string `json:"technician_id"`
	Detail       string `json:"detail,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// DistributionRecord mirrors a machine's operational status at a commerce
// site while it is in the distribution/collection phases.
type DistributionRecord struct {
	ID           int64  `json:"id"`
	MachineID    string `json:"machine_id"`
	TechnicianID string `json:"technician_id"`
	CommerceID   string `json:"commerce_id"`
	Status       string `json:"status" enum:"Distribuyendose,Operativa,No operativa,Retirada"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Notification is a per-recipient row polled by clients.
type Notification struct {
	ID          int64   `json:"id"`
	SenderID    string  `json:"sender_id"`
	RecipientID string  `json:"recipient_id"`
	MachineID   string  `json:"machine_id"`
	Kind        string  `json:"kind"`
	Message     string  `json:"message,omitempty"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type User struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type" enum:"Tecnico,Logistica"`
	Specialty  *string `json:"specialty,omitempty"`
	Active     bool    `json:"active"`
	Activities int     `json:"activities"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// Technician is the directory view consumed during auto-assignment.
type Technician struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Specialty  string `json:"specialty"`
	Activities int    `json:"activities"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidStatusesForStage reports the status subset a stage admits.
func ValidStatusesForStage(stage string) []string {
	switch stage {
	case StageAssembly:
		return []string{StatusAssembling, StatusReassembling}
	case StageVerification:
		return []string{StatusVerifying}
	case StageDistribution:
		return []string{StatusDistributing}
	case StageCollection:
		return []string{StatusOperational}
	case StageMaintenance:
		return []string{StatusInactive, StatusRetired}
	default:
		return nil
	}
}
