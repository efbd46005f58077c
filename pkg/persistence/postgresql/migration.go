package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE routes (
				id VARCHAR(255) PRIMARY KEY,
				graph_id VARCHAR(255) NOT NULL,
				repository VARCHAR(255) NOT NULL,
				state VARCHAR(50) NOT NULL CHECK (state IN ('created', 'running', 'done', 'canceled')),
				title VARCHAR(255),
				variables JSONB NOT NULL DEFAULT '{}',
				attached_document_ids JSONB NOT NULL DEFAULT '[]',
				initiator VARCHAR(255),
				parent_route_id VARCHAR(255),
				parent_node_id VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				version BIGINT NOT NULL DEFAULT 1
			);

			CREATE INDEX idx_routes_repository ON routes(repository);
			CREATE INDEX idx_routes_state ON routes(state);
			CREATE INDEX idx_routes_parent_route_id ON routes(parent_route_id);

			CREATE TABLE route_nodes (
				id VARCHAR(255) PRIMARY KEY,
				route_id VARCHAR(255) NOT NULL REFERENCES routes(id),
				repository VARCHAR(255) NOT NULL,
				state VARCHAR(50) NOT NULL CHECK (state IN ('ready', 'running', 'suspended', 'done', 'canceled')),
				title VARCHAR(255),
				start_node BOOLEAN NOT NULL DEFAULT false,
				stop_node BOOLEAN NOT NULL DEFAULT false,
				transitions JSONB NOT NULL DEFAULT '[]',
				escalation_rules JSONB NOT NULL DEFAULT '[]',
				suspended_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				version BIGINT NOT NULL DEFAULT 1
			);

			CREATE INDEX idx_route_nodes_route_id ON route_nodes(route_id);
			CREATE INDEX idx_route_nodes_repository_state ON route_nodes(repository, state);

			CREATE TABLE schedules (
				id VARCHAR(255) PRIMARY KEY,
				event_id VARCHAR(255) NOT NULL,
				event_category VARCHAR(255),
				cron_expression VARCHAR(255) NOT NULL,
				username VARCHAR(255),
				enabled BOOLEAN NOT NULL DEFAULT true,
				factory_type VARCHAR(255),
				next_fire_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}
