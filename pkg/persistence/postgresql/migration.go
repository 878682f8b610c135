package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger_event VARCHAR(255) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT true,
				current_version_id UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automations_tenant_event ON automations(tenant_id, trigger_event);

			CREATE TABLE automation_versions (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
				version INTEGER NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (automation_id, version)
			);

			CREATE TABLE automation_runs (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
				tenant_id VARCHAR(255) NOT NULL,
				version_id UUID NOT NULL REFERENCES automation_versions(id),
				subject_type VARCHAR(64) NOT NULL,
				subject_id VARCHAR(255) NOT NULL,
				trigger_event VARCHAR(255),
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				pending_nodes INTEGER NOT NULL DEFAULT 0 CHECK (pending_nodes >= 0),
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_automation_runs_automation ON automation_runs(automation_id, started_at DESC);
			CREATE INDEX idx_automation_runs_subject ON automation_runs(subject_type, subject_id);

			CREATE TABLE automation_node_runs (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES automation_runs(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'success', 'failed')),
				attempts INTEGER NOT NULL CHECK (attempts >= 1),
				input JSONB,
				output JSONB,
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (run_id, node_id)
			);
		`,
		2: `
			-- Read-only subject tables owned by the surrounding application
			CREATE TABLE IF NOT EXISTS contacts (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255),
				phone VARCHAR(64)
			);

			CREATE TABLE IF NOT EXISTS invoices (
				id VARCHAR(255) PRIMARY KEY,
				number VARCHAR(64) NOT NULL,
				status VARCHAR(32) NOT NULL,
				total NUMERIC(14, 2) NOT NULL DEFAULT 0,
				currency VARCHAR(8) NOT NULL DEFAULT '',
				issued_at TIMESTAMP WITH TIME ZONE,
				due_at TIMESTAMP WITH TIME ZONE,
				contact_id VARCHAR(255) REFERENCES contacts(id)
			);

			CREATE TABLE IF NOT EXISTS workflow_stages (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				position INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS workflow_jobs (
				id VARCHAR(255) PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				stage_id VARCHAR(255) REFERENCES workflow_stages(id),
				contact_id VARCHAR(255) REFERENCES contacts(id),
				invoice_id VARCHAR(255) REFERENCES invoices(id)
			);
		`,
	}
}
